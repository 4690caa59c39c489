package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchStore persists checkpoints as one document per source in
// an Elasticsearch index, for deployments that already ship ThreatLens's
// other state to Elasticsearch and would rather not run a second store
// just for tailer offsets.
type ElasticsearchStore struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchStore builds a store against the given client/index.
// The index is created with no explicit mapping; documents are plain
// {last_offset, known_size, status, last_error} objects.
func NewElasticsearchStore(client *elasticsearch.Client, index string) *ElasticsearchStore {
	return &ElasticsearchStore{client: client, index: index}
}

// Save indexes (or overwrites) the checkpoint document for
// o.SourceName, using the source name as the document ID so Save is
// naturally idempotent.
func (s *ElasticsearchStore) Save(ctx context.Context, o Offset) error {
	body, err := json.Marshal(map[string]interface{}{
		"last_offset": o.LastOffset,
		"known_size":  o.KnownSize,
		"status":      o.Status,
		"last_error":  o.LastError,
	})
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: o.SourceName,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("checkpoint: elasticsearch index error: %s", res.String())
	}
	return nil
}

// Load fetches the checkpoint document for sourceName, if any.
func (s *ElasticsearchStore) Load(ctx context.Context, sourceName string) (Offset, bool, error) {
	req := esapi.GetRequest{Index: s.index, DocumentID: sourceName}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return Offset{}, false, err
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return Offset{}, false, nil
	}
	if res.IsError() {
		return Offset{}, false, fmt.Errorf("checkpoint: elasticsearch get error: %s", res.String())
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Offset{}, false, err
	}
	var doc struct {
		Source struct {
			LastOffset int64  `json:"last_offset"`
			KnownSize  int64  `json:"known_size"`
			Status     string `json:"status"`
			LastError  string `json:"last_error"`
		} `json:"_source"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Offset{}, false, err
	}
	return Offset{
		SourceName: sourceName,
		LastOffset: doc.Source.LastOffset,
		KnownSize:  doc.Source.KnownSize,
		Status:     doc.Source.Status,
		LastError:  doc.Source.LastError,
	}, true, nil
}

// Close is a no-op: the elasticsearch client has no persistent
// connection to tear down, only pooled HTTP transport.
func (s *ElasticsearchStore) Close(context.Context) error {
	return nil
}
