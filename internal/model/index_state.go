package model

type IndexState string

const (
	IndexStateAbsent    IndexState = "absent"
	IndexStateIndexOnly IndexState = "index_only"
	IndexStateDeployed  IndexState = "deployed"
)

type IndexStatus struct {
	State            IndexState `json:"state"`
	IndexName        string     `json:"index_name"`
	IndexID          string     `json:"index_id,omitempty"`
	EndpointName     string     `json:"endpoint_name"`
	EndpointID       string     `json:"endpoint_id,omitempty"`
	EndpointDomain   string     `json:"endpoint_domain,omitempty"`
	DeployedIndexIDs []string   `json:"deployed_index_ids,omitempty"`
}
