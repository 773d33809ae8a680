package api

// Write requests. TTLSeconds of zero stores the value without expiry.

type StringRequest struct {
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type HashRequest struct {
	Fields     map[string]string `json:"fields"`
	TTLSeconds int               `json:"ttl_seconds"`
}

type ListRequest struct {
	Values     []string `json:"values"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type SetRequest struct {
	Members    []string `json:"members"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type SortedSetRequest struct {
	Members    map[string]float64 `json:"members"`
	TTLSeconds int                `json:"ttl_seconds"`
}

type BatchEntryDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type BatchRequest struct {
	Entries []BatchEntryDTO `json:"entries"`
}

// Responses

type StringDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type HashDTO struct {
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields"`
}

type ListDTO struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

type MembersDTO struct {
	Key     string   `json:"key"`
	Members []string `json:"members"`
}

type WriteResponse struct {
	Key   string `json:"key"`
	Count int64  `json:"count,omitempty"`
}

type DeleteResponse struct {
	Key     string `json:"key"`
	Deleted int64  `json:"deleted"`
}

type BatchResponse struct {
	Written int `json:"written"`
}

type KeysResponse struct {
	Pattern string   `json:"pattern"`
	Keys    []string `json:"keys"`
}

type ReadyResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
