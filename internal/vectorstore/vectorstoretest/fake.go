// Package vectorstoretest provides an in-memory Vertex AI vector search
// service for tests.
package vectorstoretest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/protobuf/proto"
)

// Fake is an in-memory stand-in for the index, endpoint and match
// services.
type Fake struct {
	mu        sync.Mutex
	seq       int
	Indexes   map[string]*aiplatformpb.Index
	Endpoints map[string]*aiplatformpb.IndexEndpoint
	Points    map[string]map[string]*aiplatformpb.IndexDatapoint

	CreateIndexCalls int
	DeployCalls      int
	Undeployed       []string
	FailUndeploy     map[string]error
	UpsertErr        error
}

func NewFake() *Fake {
	return &Fake{
		Indexes:      map[string]*aiplatformpb.Index{},
		Endpoints:    map[string]*aiplatformpb.IndexEndpoint{},
		Points:       map[string]map[string]*aiplatformpb.IndexDatapoint{},
		FailUndeploy: map[string]error{},
	}
}

func (f *Fake) nextName(parent, kind string) string {
	f.seq++
	return fmt.Sprintf("%s/%s/%d", parent, kind, f.seq)
}

func (f *Fake) AddIndex(parent, display string) *aiplatformpb.Index {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := &aiplatformpb.Index{Name: f.nextName(parent, "indexes"), DisplayName: display}
	f.Indexes[idx.Name] = idx
	f.Points[idx.Name] = map[string]*aiplatformpb.IndexDatapoint{}
	return idx
}

func (f *Fake) AddEndpoint(parent, display string) *aiplatformpb.IndexEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep := &aiplatformpb.IndexEndpoint{
		Name:                     f.nextName(parent, "indexEndpoints"),
		DisplayName:              display,
		PublicEndpointEnabled:    true,
		PublicEndpointDomainName: fmt.Sprintf("%d.vdb.example", f.seq),
	}
	f.Endpoints[ep.Name] = ep
	return ep
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *Fake) ListIndexes(ctx context.Context, parent string) ([]*aiplatformpb.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*aiplatformpb.Index
	for _, k := range sortedKeys(f.Indexes) {
		out = append(out, proto.Clone(f.Indexes[k]).(*aiplatformpb.Index))
	}
	return out, nil
}

func (f *Fake) GetIndex(ctx context.Context, name string) (*aiplatformpb.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.Indexes[name]
	if !ok {
		return nil, errors.New("index not found")
	}
	return proto.Clone(idx).(*aiplatformpb.Index), nil
}

func (f *Fake) CreateIndex(ctx context.Context, parent string, index *aiplatformpb.Index) (*aiplatformpb.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateIndexCalls++
	idx := proto.Clone(index).(*aiplatformpb.Index)
	idx.Name = f.nextName(parent, "indexes")
	f.Indexes[idx.Name] = idx
	f.Points[idx.Name] = map[string]*aiplatformpb.IndexDatapoint{}
	return proto.Clone(idx).(*aiplatformpb.Index), nil
}

func (f *Fake) DeleteIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ep := range f.Endpoints {
		for _, d := range ep.DeployedIndexes {
			if d.Index == name {
				return errors.New("index is still deployed")
			}
		}
	}
	delete(f.Indexes, name)
	delete(f.Points, name)
	return nil
}

func (f *Fake) UpsertDatapoints(ctx context.Context, index string, datapoints []*aiplatformpb.IndexDatapoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	points, ok := f.Points[index]
	if !ok {
		return errors.New("index not found")
	}
	for _, dp := range datapoints {
		points[dp.DatapointId] = proto.Clone(dp).(*aiplatformpb.IndexDatapoint)
	}
	return nil
}

func (f *Fake) RemoveDatapoints(ctx context.Context, index string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.Points[index], id)
	}
	return nil
}

func (f *Fake) ListIndexEndpoints(ctx context.Context, parent string) ([]*aiplatformpb.IndexEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*aiplatformpb.IndexEndpoint
	for _, k := range sortedKeys(f.Endpoints) {
		out = append(out, proto.Clone(f.Endpoints[k]).(*aiplatformpb.IndexEndpoint))
	}
	return out, nil
}

func (f *Fake) GetIndexEndpoint(ctx context.Context, name string) (*aiplatformpb.IndexEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.Endpoints[name]
	if !ok {
		return nil, errors.New("endpoint not found")
	}
	return proto.Clone(ep).(*aiplatformpb.IndexEndpoint), nil
}

func (f *Fake) CreateIndexEndpoint(ctx context.Context, parent string, endpoint *aiplatformpb.IndexEndpoint) (*aiplatformpb.IndexEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep := proto.Clone(endpoint).(*aiplatformpb.IndexEndpoint)
	ep.Name = f.nextName(parent, "indexEndpoints")
	ep.PublicEndpointDomainName = fmt.Sprintf("%d.vdb.example", f.seq)
	f.Endpoints[ep.Name] = ep
	return proto.Clone(ep).(*aiplatformpb.IndexEndpoint), nil
}

func (f *Fake) DeployIndex(ctx context.Context, endpoint string, deployed *aiplatformpb.DeployedIndex) (*aiplatformpb.DeployedIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeployCalls++
	ep, ok := f.Endpoints[endpoint]
	if !ok {
		return nil, errors.New("endpoint not found")
	}
	for _, d := range ep.DeployedIndexes {
		if d.Id == deployed.Id {
			return nil, errors.New("deployed index id already exists")
		}
	}
	d := proto.Clone(deployed).(*aiplatformpb.DeployedIndex)
	ep.DeployedIndexes = append(ep.DeployedIndexes, d)
	return proto.Clone(d).(*aiplatformpb.DeployedIndex), nil
}

func (f *Fake) UndeployIndex(ctx context.Context, endpoint string, deployedIndexID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailUndeploy[deployedIndexID]; err != nil {
		return err
	}
	ep := f.Endpoints[endpoint]
	kept := ep.DeployedIndexes[:0]
	for _, d := range ep.DeployedIndexes {
		if d.Id != deployedIndexID {
			kept = append(kept, d)
		}
	}
	ep.DeployedIndexes = kept
	f.Undeployed = append(f.Undeployed, deployedIndexID)
	return nil
}

func (f *Fake) DeleteIndexEndpoint(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.Endpoints[name]
	if !ok {
		return errors.New("endpoint not found")
	}
	if len(ep.DeployedIndexes) > 0 {
		return errors.New("endpoint still has deployed indexes")
	}
	delete(f.Endpoints, name)
	return nil
}

// FindNeighbors ranks datapoints by dot product, highest first, honouring
// allow and deny restricts.
func (f *Fake) FindNeighbors(ctx context.Context, publicDomain string, req *aiplatformpb.FindNeighborsRequest) (*aiplatformpb.FindNeighborsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.Endpoints[req.IndexEndpoint]
	if !ok || ep.PublicEndpointDomainName != publicDomain {
		return nil, errors.New("unknown endpoint")
	}
	var indexName string
	for _, d := range ep.DeployedIndexes {
		if d.Id == req.DeployedIndexId {
			indexName = d.Index
		}
	}
	if indexName == "" {
		return nil, errors.New("deployed index not found")
	}
	resp := &aiplatformpb.FindNeighborsResponse{}
	for _, q := range req.Queries {
		var neighbors []*aiplatformpb.FindNeighborsResponse_Neighbor
		for _, id := range sortedKeys(f.Points[indexName]) {
			dp := f.Points[indexName][id]
			if !matchesRestricts(dp, q.Datapoint.Restricts) {
				continue
			}
			neighbors = append(neighbors, &aiplatformpb.FindNeighborsResponse_Neighbor{
				Datapoint: &aiplatformpb.IndexDatapoint{DatapointId: id},
				Distance:  dot(dp.FeatureVector, q.Datapoint.FeatureVector),
			})
		}
		sort.SliceStable(neighbors, func(i, j int) bool {
			return neighbors[i].Distance > neighbors[j].Distance
		})
		if len(neighbors) > int(q.NeighborCount) {
			neighbors = neighbors[:q.NeighborCount]
		}
		resp.NearestNeighbors = append(resp.NearestNeighbors, &aiplatformpb.FindNeighborsResponse_NearestNeighbors{
			Id:        q.Datapoint.DatapointId,
			Neighbors: neighbors,
		})
	}
	return resp, nil
}

func matchesRestricts(dp *aiplatformpb.IndexDatapoint, filters []*aiplatformpb.IndexDatapoint_Restriction) bool {
	for _, f := range filters {
		var values []string
		for _, r := range dp.Restricts {
			if r.Namespace == f.Namespace {
				values = append(values, r.AllowList...)
			}
		}
		if len(f.AllowList) > 0 && !overlaps(values, f.AllowList) {
			return false
		}
		if overlaps(values, f.DenyList) {
			return false
		}
	}
	return true
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i < len(b) {
			sum += float64(a[i]) * float64(b[i])
		}
	}
	return sum
}
