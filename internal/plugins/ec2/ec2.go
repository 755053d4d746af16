// Package ec2 finds the EC2 instance that owns an address.
package ec2

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/logger"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins/awsconfig"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const Name = "ec2"

// addressFilters are tried in order: public addresses first, since that is
// what an external target usually resolves to.
var addressFilters = []string{"ip-address", "private-ip-address"}

// EC2API is the subset of the EC2 client used here.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

type Plugin struct {
	logger    *logger.Logger
	newClient func(ctx context.Context, creds *credentials.AWS) (EC2API, error)
}

func New(log *logger.Logger) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{
		logger: log.WithComponent("ec2"),
		newClient: func(ctx context.Context, creds *credentials.AWS) (EC2API, error) {
			cfg, err := awsconfig.Load(ctx, creds)
			if err != nil {
				return nil, err
			}
			return ec2.NewFromConfig(cfg), nil
		},
	}
}

func (p *Plugin) Name() string            { return Name }
func (p *Plugin) Phase() types.Phase      { return types.PhaseControlPlane }
func (p *Plugin) Priority() int           { return 90 }
func (p *Plugin) ResourceTypes() []string { return []string{types.ResourceTypeEC2Instance} }

func (p *Plugin) CanHandle(req *core.Request) bool {
	return req.Credentials.AWS != nil
}

func (p *Plugin) Discover(ctx context.Context, req *core.Request) ([]types.Resource, error) {
	creds := req.Credentials.AWS
	client, err := p.newClient(ctx, creds)
	if err != nil {
		return nil, err
	}

	for _, filter := range addressFilters {
		input := &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{{
				Name:   aws.String(filter),
				Values: []string{req.Address},
			}},
		}
		paginator := ec2.NewDescribeInstancesPaginator(client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("describe instances (%s): %w", filter, err)
			}
			for _, reservation := range page.Reservations {
				for _, instance := range reservation.Instances {
					p.logger.Debugw("Matched EC2 instance",
						"instance_id", aws.ToString(instance.InstanceId),
						"filter", filter,
					)
					return []types.Resource{toResource(creds.Region, aws.ToString(reservation.OwnerId), instance)}, nil
				}
			}
		}
	}
	return nil, core.ErrNoMatch
}

func toResource(region, owner string, instance ec2types.Instance) types.Resource {
	id := aws.ToString(instance.InstanceId)
	key := awsconfig.ARN("ec2", region, owner, "instance/"+id)

	publicIPs, privateIPs := instanceAddresses(instance)

	tags := make(map[string]any, len(instance.Tags))
	for _, tag := range instance.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}

	data := map[string]any{
		"uri":             key,
		"id":              id,
		"instance_type":   string(instance.InstanceType),
		"public_ips":      publicIPs,
		"private_ips":     privateIPs,
		"public_dns_name": aws.ToString(instance.PublicDnsName),
		"private_dns":     aws.ToString(instance.PrivateDnsName),
		"key_name":        aws.ToString(instance.KeyName),
		"tags":            tags,
	}
	if name, ok := tags["Name"]; ok {
		data["name"] = name
	}
	if instance.State != nil {
		data["state"] = string(instance.State.Name)
	}
	if instance.Placement != nil {
		data["availability_zone"] = aws.ToString(instance.Placement.AvailabilityZone)
	}

	return types.Resource{
		Key:  key,
		ID:   id,
		Type: types.ResourceTypeEC2Instance,
		Data: data,
	}
}

// instanceAddresses collects every address across the instance's network
// interfaces, including secondary private IPs and their public associations.
func instanceAddresses(instance ec2types.Instance) (public, private []any) {
	pub := map[string]bool{}
	priv := map[string]bool{}
	add := func(set map[string]bool, ip *string) {
		if v := aws.ToString(ip); v != "" {
			set[v] = true
		}
	}

	add(pub, instance.PublicIpAddress)
	add(priv, instance.PrivateIpAddress)
	for _, iface := range instance.NetworkInterfaces {
		if iface.Association != nil {
			add(pub, iface.Association.PublicIp)
		}
		for _, addr := range iface.PrivateIpAddresses {
			add(priv, addr.PrivateIpAddress)
			if addr.Association != nil {
				add(pub, addr.Association.PublicIp)
			}
		}
	}
	return sortedList(pub), sortedList(priv)
}

func sortedList(set map[string]bool) []any {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
