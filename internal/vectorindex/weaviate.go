package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

const (
	weaviateIndexProp = "idx"
	weaviateTextProp  = "text"
	weaviateBatchSize = 200
)

// WeaviateIndex serves nearest-neighbour queries from a Weaviate class whose
// objects carry the entry position in an integer property.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
	size   int
	logger *zap.Logger
}

// NewWeaviateIndex connects to the configured instance. size is the number
// of entries the class is expected to hold.
func NewWeaviateIndex(cfg config.WeaviateConfig, size int, logger *zap.Logger) (*WeaviateIndex, error) {
	wcfg := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateIndex{
		client: client,
		class:  cfg.Class,
		size:   size,
		logger: logger.Named("weaviate_index").With(zap.String("class", cfg.Class)),
	}, nil
}

func (w *WeaviateIndex) Size() int { return w.size }

// Search runs a nearVector query. Weaviate returns hits ordered by distance.
func (w *WeaviateIndex) Search(ctx context.Context, query []float32, k int) ([]schemas.Neighbor, error) {
	if w.size == 0 {
		return nil, schemas.Errorf(schemas.ErrKindRetrieval, "search", "index is empty")
	}
	if k > w.size {
		k = w.size
	}
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(query)
	resp, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(
			graphql.Field{Name: weaviateIndexProp},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "search", err)
	}
	neighbors, err := parseNearVector(resp, w.class)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "search", err)
	}
	return neighbors, nil
}

// Ingest (re)creates the class and loads one object per entry. Existing data
// is kept unless replace is set.
func (w *WeaviateIndex) Ingest(ctx context.Context, texts []string, vectors [][]float32, replace bool) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("ingest: %d texts but %d vectors", len(texts), len(vectors))
	}
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", w.class, err)
	}
	if exists && !replace {
		w.logger.Info("Class already present, skipping ingest")
		w.size = len(texts)
		return nil
	}
	if exists {
		if err := w.client.Schema().ClassDeleter().WithClassName(w.class).Do(ctx); err != nil {
			return fmt.Errorf("delete class %s: %w", w.class, err)
		}
	}

	class := &models.Class{
		Class:      w.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: weaviateIndexProp, DataType: []string{"int"}},
			{Name: weaviateTextProp, DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.class, err)
	}

	for start := 0; start < len(texts); start += weaviateBatchSize {
		end := min(start+weaviateBatchSize, len(texts))
		objects := make([]*models.Object, 0, end-start)
		for i := start; i < end; i++ {
			objects = append(objects, &models.Object{
				Class:      w.class,
				Properties: map[string]interface{}{weaviateIndexProp: i, weaviateTextProp: texts[i]},
				Vector:     vectors[i],
			})
		}
		results, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for _, r := range results {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch %d-%d: %s", start, end, r.Result.Errors.Error[0].Message)
			}
		}
	}
	w.size = len(texts)
	w.logger.Info("Ingested entries", zap.Int("count", len(texts)))
	return nil
}

func parseNearVector(resp *models.GraphQLResponse, class string) ([]schemas.Neighbor, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty graphql response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	get, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("graphql response missing Get")
	}
	hits, ok := get[class].([]interface{})
	if !ok {
		return nil, fmt.Errorf("graphql response missing class %s", class)
	}

	out := make([]schemas.Neighbor, 0, len(hits))
	for _, h := range hits {
		obj, ok := h.(map[string]interface{})
		if !ok {
			continue
		}
		idx, ok := obj[weaviateIndexProp].(float64)
		if !ok {
			return nil, fmt.Errorf("hit without %s property", weaviateIndexProp)
		}
		var dist float64
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			dist, _ = add["distance"].(float64)
		}
		out = append(out, schemas.Neighbor{Index: int(idx), Distance: dist})
	}
	return out, nil
}
