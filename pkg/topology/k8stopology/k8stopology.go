// Package k8stopology implements the topology layer (§6) over a
// Kubernetes cluster: a table's owning nodes are resolved from the
// Endpoints object backing the service that fronts this control plane's
// nodes, one Endpoints subset address per node. Grounded on the teacher's
// pkg/discovery/kubernetes.go, which resolves application/database
// topology from Deployments and StatefulSets via the same client-go
// clientset; here the lookup is retargeted from "which app owns this
// database" to "which node owns this shard".
package k8stopology

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/topology"
)

// K8sTopology implements topology.Topology by fanning calls out to nodes
// resolved from a Kubernetes Endpoints object.
type K8sTopology struct {
	client    *kubernetes.Clientset
	logger    *zap.Logger
	namespace string
	// serviceName is the Endpoints-backing service whose subset
	// addresses are this control plane's node pool.
	serviceName string
}

// New builds a K8sTopology, preferring in-cluster config and falling back
// to the local kubeconfig for development, exactly as the teacher's
// NewKubernetesDiscovery does.
func New(namespace, serviceName string, logger *zap.Logger) (*K8sTopology, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &K8sTopology{
		client:      clientset,
		logger:      logger,
		namespace:   namespace,
		serviceName: serviceName,
	}, nil
}

// resolveNodeAddress maps a node id (a pod/host name) to its reachable
// address by scanning the service's Endpoints subsets.
func (k *K8sTopology) resolveNodeAddress(ctx context.Context, nodeID string) (string, error) {
	ep, err := k.client.CoreV1().Endpoints(k.namespace).Get(ctx, k.serviceName, metav1.GetOptions{})
	if err != nil {
		return "", enterdberrors.Wrap(err, enterdberrors.KindDownstream, "endpoints_lookup_failed", "failed to resolve node address").WithField(nodeID)
	}
	for _, subset := range ep.Subsets {
		for _, addr := range subset.Addresses {
			if addr.Hostname == nodeID || (addr.TargetRef != nil && addr.TargetRef.Name == nodeID) {
				return addr.IP, nil
			}
		}
	}
	return "", enterdberrors.New(enterdberrors.KindNotFound, "node_not_found", "node not present in endpoints").WithField(nodeID)
}

// TopoCall checks that every node resolves to an address in the
// service's Endpoints, then executes action with that node's id, within
// topology.DefaultTimeout, reverting every node that already succeeded if
// any node fails or the call times out.
func (k *K8sTopology) TopoCall(ctx context.Context, nodes []string, action topology.Action, revert topology.Revert) error {
	ctx, cancel := context.WithTimeout(ctx, topology.DefaultTimeout)
	defer cancel()

	succeeded := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if _, err := k.resolveNodeAddress(ctx, node); err != nil {
			k.revertAll(ctx, revert, succeeded)
			return err
		}
		if err := action(ctx, node); err != nil {
			k.revertAll(ctx, revert, succeeded)
			return enterdberrors.Wrap(err, enterdberrors.KindTransient, "topo_call_failed", "distributed action failed").WithField(node)
		}
		succeeded = append(succeeded, node)
	}
	if ctx.Err() != nil {
		k.revertAll(ctx, revert, succeeded)
		return enterdberrors.New(enterdberrors.KindTransient, "topo_call_timeout", "topology call timed out")
	}
	return nil
}

func (k *K8sTopology) revertAll(ctx context.Context, revert topology.Revert, nodes []string) {
	if revert == nil {
		return
	}
	for _, node := range nodes {
		if err := revert(ctx, node); err != nil {
			k.logger.Warn("revert failed", zap.String("node", node), zap.Error(err))
		}
	}
}

// MapShardsSeq executes fn against one owning node per shard, guaranteeing
// one successful replica per shard by trying each candidate node in order
// until one succeeds.
func (k *K8sTopology) MapShardsSeq(ctx context.Context, shards map[string][]string, fn func(ctx context.Context, nodeID, shardID string) (any, error)) []topology.ShardResult {
	results := make([]topology.ShardResult, 0, len(shards))
	for shardID, nodes := range shards {
		var (
			val     any
			lastErr error
		)
		for _, node := range nodes {
			v, err := fn(ctx, node, shardID)
			if err == nil {
				val = v
				lastErr = nil
				break
			}
			lastErr = err
			k.logger.Warn("shard replica call failed, trying next", zap.String("shard_id", shardID), zap.String("node", node), zap.Error(err))
		}
		results = append(results, topology.ShardResult{ShardID: shardID, Value: val, Err: lastErr})
	}
	return results
}
