// Package elasticache matches a target against the node endpoints of
// ElastiCache clusters.
package elasticache

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	elasticachetypes "github.com/aws/aws-sdk-go-v2/service/elasticache/types"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/awsconfig"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const Name = "elasticache"

// ElastiCacheAPI defines the ElastiCache API interface
type ElastiCacheAPI interface {
	DescribeCacheClusters(ctx context.Context, params *elasticache.DescribeCacheClustersInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeCacheClustersOutput, error)
}

// ResourceGroupsTaggingAPI defines the Resource Groups Tagging API interface
type ResourceGroupsTaggingAPI interface {
	GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

type clients struct {
	cache   ElastiCacheAPI
	tagging ResourceGroupsTaggingAPI
}

type Plugin struct {
	logger     *logger.Logger
	newClients func(ctx context.Context, creds *credentials.AWS) (clients, error)
}

func New(log *logger.Logger) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{
		logger: log.WithComponent("elasticache"),
		newClients: func(ctx context.Context, creds *credentials.AWS) (clients, error) {
			cfg, err := awsconfig.Load(ctx, creds)
			if err != nil {
				return clients{}, err
			}
			return clients{
				cache:   elasticache.NewFromConfig(cfg),
				tagging: resourcegroupstaggingapi.NewFromConfig(cfg),
			}, nil
		},
	}
}

func (p *Plugin) Name() string            { return Name }
func (p *Plugin) Phase() types.Phase      { return types.PhaseControlPlane }
func (p *Plugin) Priority() int           { return 80 }
func (p *Plugin) ResourceTypes() []string { return []string{types.ResourceTypeCacheCluster} }

func (p *Plugin) CanHandle(req *core.Request) bool {
	return req.Credentials.AWS != nil
}

func (p *Plugin) Discover(ctx context.Context, req *core.Request) ([]types.Resource, error) {
	c, err := p.newClients(ctx, req.Credentials.AWS)
	if err != nil {
		return nil, err
	}

	candidates := map[string]bool{strings.ToLower(req.Address): true}
	if !req.Target.IsIP && req.Target.Host != "" {
		candidates[strings.ToLower(req.Target.Host)] = true
	}

	paginator := elasticache.NewDescribeCacheClustersPaginator(c.cache, &elasticache.DescribeCacheClustersInput{
		ShowCacheNodeInfo: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe cache clusters: %w", err)
		}
		for _, cluster := range page.CacheClusters {
			if !clusterMatches(cluster, candidates) {
				continue
			}
			res := toResource(req.Credentials.AWS.Region, cluster)
			if tags, err := p.tags(ctx, c.tagging, res.Key); err != nil {
				p.logger.Warnw("Could not read cache cluster tags", "arn", res.Key, "error", err)
			} else if len(tags) > 0 {
				res.Data["tags"] = tags
			}
			return []types.Resource{res}, nil
		}
	}
	return nil, core.ErrNoMatch
}

func clusterMatches(cluster elasticachetypes.CacheCluster, candidates map[string]bool) bool {
	if ep := cluster.ConfigurationEndpoint; ep != nil && candidates[strings.ToLower(aws.ToString(ep.Address))] {
		return true
	}
	for _, node := range cluster.CacheNodes {
		if node.Endpoint != nil && candidates[strings.ToLower(aws.ToString(node.Endpoint.Address))] {
			return true
		}
	}
	return false
}

func toResource(region string, cluster elasticachetypes.CacheCluster) types.Resource {
	id := aws.ToString(cluster.CacheClusterId)
	key := aws.ToString(cluster.ARN)
	if key == "" {
		key = awsconfig.ARN("elasticache", region, "", "cluster:"+id)
	}

	nodes := make([]any, 0, len(cluster.CacheNodes))
	for _, node := range cluster.CacheNodes {
		entry := map[string]any{
			"id":     aws.ToString(node.CacheNodeId),
			"status": aws.ToString(node.CacheNodeStatus),
		}
		if node.Endpoint != nil {
			entry["address"] = aws.ToString(node.Endpoint.Address)
			entry["port"] = int(aws.ToInt32(node.Endpoint.Port))
		}
		nodes = append(nodes, entry)
	}

	data := map[string]any{
		"uri":               key,
		"id":                id,
		"name":              id,
		"engine":            aws.ToString(cluster.Engine),
		"engine_version":    aws.ToString(cluster.EngineVersion),
		"node_type":         aws.ToString(cluster.CacheNodeType),
		"status":            aws.ToString(cluster.CacheClusterStatus),
		"availability_zone": aws.ToString(cluster.PreferredAvailabilityZone),
		"nodes":             nodes,
	}
	if rg := aws.ToString(cluster.ReplicationGroupId); rg != "" {
		data["replication_group_id"] = rg
	}

	return types.Resource{
		Key:  key,
		ID:   id,
		Type: types.ResourceTypeCacheCluster,
		Data: data,
	}
}

func (p *Plugin) tags(ctx context.Context, client ResourceGroupsTaggingAPI, arn string) (map[string]any, error) {
	if client == nil {
		return nil, nil
	}
	out, err := client.GetResources(ctx, &resourcegroupstaggingapi.GetResourcesInput{
		ResourceARNList: []string{arn},
	})
	if err != nil {
		return nil, err
	}
	tags := map[string]any{}
	for _, mapping := range out.ResourceTagMappingList {
		for _, tag := range mapping.Tags {
			tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}
	return tags, nil
}
