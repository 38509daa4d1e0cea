package events

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// OpenSearchStore reads Sysmon events from an OpenSearch index. Documents
// carry timestamp, event_id, hostname and a flat fields object with the
// Sysmon event data fields.
type OpenSearchStore struct {
	client      *opensearch.Client
	indexPrefix string
}

// NewOpenSearchStore creates a store over the configured cluster.
func NewOpenSearchStore(url, username, password string, insecure bool, indexPrefix string) (*OpenSearchStore, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: insecure,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{url},
		Username:  username,
		Password:  password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchStore{
		client:      client,
		indexPrefix: indexPrefix,
	}, nil
}

// TestAccess pings the cluster with the configured credentials.
func (s *OpenSearchStore) TestAccess(ctx context.Context) error {
	res, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

func baseFilter(hostname string, eventID int, hours float64) []map[string]interface{} {
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"hostname": hostname}},
		{"range": map[string]interface{}{
			"timestamp": map[string]interface{}{"gte": fmt.Sprintf("now-%dm", int(hours*60))},
		}},
	}
	if eventID > 0 {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"event_id": eventID},
		})
	}
	return filters
}

// GetAggregations runs one composite terms aggregation per event type and
// flattens the buckets. Composite paging keeps high-cardinality hosts from
// truncating at a fixed bucket count.
func (s *OpenSearchStore) GetAggregations(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]Aggregation, error) {
	var out []Aggregation

	for eventID, fields := range fieldsByEvent {
		if len(fields) == 0 {
			continue
		}

		sources := make([]map[string]interface{}, 0, len(fields))
		for _, f := range fields {
			sources = append(sources, map[string]interface{}{
				f: map[string]interface{}{
					"terms": map[string]interface{}{
						"field":          fmt.Sprintf("fields.%s", f),
						"missing_bucket": true,
					},
				},
			})
		}

		var after map[string]interface{}
		for {
			composite := map[string]interface{}{
				"sources": sources,
				"size":    1000,
			}
			if after != nil {
				composite["after"] = after
			}

			query := map[string]interface{}{
				"size": 0,
				"query": map[string]interface{}{
					"bool": map[string]interface{}{
						"filter": baseFilter(hostname, eventID, hours),
					},
				},
				"aggs": map[string]interface{}{
					"patterns": map[string]interface{}{
						"composite": composite,
					},
				},
			}

			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(query); err != nil {
				return nil, fmt.Errorf("failed to encode aggregation query: %w", err)
			}

			res, err := s.client.Search(
				s.client.Search.WithContext(ctx),
				s.client.Search.WithIndex(s.indexPrefix+"*"),
				s.client.Search.WithBody(&buf),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to run aggregation query: %w", err)
			}

			var result struct {
				Aggregations struct {
					Patterns struct {
						AfterKey map[string]interface{} `json:"after_key"`
						Buckets  []struct {
							Key      map[string]interface{} `json:"key"`
							DocCount int64                  `json:"doc_count"`
						} `json:"buckets"`
					} `json:"patterns"`
				} `json:"aggregations"`
			}
			err = decodeResponse(res, &result)
			res.Body.Close()
			if err != nil {
				return nil, err
			}

			for _, bucket := range result.Aggregations.Patterns.Buckets {
				agg := Aggregation{
					EventID: eventID,
					Fields:  make(map[string]string, len(bucket.Key)),
					Count:   bucket.DocCount,
				}
				for k, v := range bucket.Key {
					if v == nil {
						continue
					}
					agg.Fields[k] = fmt.Sprintf("%v", v)
				}
				out = append(out, agg)
			}

			if len(result.Aggregations.Patterns.Buckets) < 1000 || result.Aggregations.Patterns.AfterKey == nil {
				break
			}
			after = result.Aggregations.Patterns.AfterKey
		}
	}

	return out, nil
}

// QueryEvents returns the newest raw events matching the filter.
func (s *OpenSearchStore) QueryEvents(ctx context.Context, hostname string, eventID int, hours float64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 10000 {
		limit = 10000
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": baseFilter(hostname, eventID, hours),
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode event query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexPrefix+"*"),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithSize(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run event query: %w", err)
	}
	defer res.Body.Close()

	var result struct {
		Hits struct {
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := decodeResponse(res, &result); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}

func decodeResponse(res *opensearchapi.Response, v interface{}) error {
	if res.IsError() {
		return fmt.Errorf("opensearch query error: %s", res.String())
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode opensearch response: %w", err)
	}
	return nil
}
