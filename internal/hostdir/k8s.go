package hostdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Label carrying the fleet group on a node; falls back to the standard
// topology zone label when unset.
const (
	groupLabel = "fleetmend.io/group"
	zoneLabel  = "topology.kubernetes.io/zone"
)

// K8sDirectory lists cluster nodes as fleet hosts: node name becomes the
// host id, labels become group/tags, and the newest node heartbeat becomes
// last-seen.
type K8sDirectory struct {
	clientset kubernetes.Interface
}

// NewK8sDirectory builds a directory over an existing clientset.
func NewK8sDirectory(clientset kubernetes.Interface) *K8sDirectory {
	return &K8sDirectory{clientset: clientset}
}

// ConnectK8sDirectory builds a directory from in-cluster config, falling
// back to the local kubeconfig.
func ConnectK8sDirectory() (*K8sDirectory, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		home, _ := os.UserHomeDir()
		kubeconfig := filepath.Join(home, ".kube", "config")
		if env := os.Getenv("KUBECONFIG"); env != "" {
			kubeconfig = env
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	return &K8sDirectory{clientset: clientset}, nil
}

// Hosts lists cluster nodes as hosts. Unschedulable nodes are disabled.
func (d *K8sDirectory) Hosts(ctx context.Context) ([]Host, error) {
	nodes, err := d.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	hosts := make([]Host, 0, len(nodes.Items))
	for _, node := range nodes.Items {
		hosts = append(hosts, nodeToHost(node))
	}
	return hosts, nil
}

func nodeToHost(node corev1.Node) Host {
	h := Host{
		ID:      node.Name,
		Enabled: !node.Spec.Unschedulable,
	}

	if g, ok := node.Labels[groupLabel]; ok {
		h.Group = g
	} else if z, ok := node.Labels[zoneLabel]; ok {
		h.Group = z
	}

	for _, addr := range node.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			h.Address = addr.Address
			break
		}
	}

	if v, ok := node.Labels["node-role.kubernetes.io/control-plane"]; ok && v != "false" {
		h.Tags = append(h.Tags, "control-plane")
	}
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			if cond.Status != corev1.ConditionTrue {
				h.Enabled = false
			}
			h.LastSeenAt = cond.LastHeartbeatTime.Time.UTC()
		}
	}
	return h
}
