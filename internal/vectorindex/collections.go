package vectorindex

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// Named vectors in the hybrid collection.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// EnsureCollections creates the legacy dense collection, the hybrid
// collection, and the DM memory collection if absent, plus the payload
// indexes every tenant filter depends on.
func (x *Index) EnsureCollections(ctx context.Context) error {
	if err := x.ensureDense(ctx, x.cfg.Collection); err != nil {
		return err
	}
	if err := x.ensureHybrid(ctx, x.cfg.HybridCollection); err != nil {
		return err
	}
	if err := x.ensureDense(ctx, x.cfg.DMCollection); err != nil {
		return err
	}
	return nil
}

func (x *Index) ensureDense(ctx context.Context, name string) error {
	exists, err := x.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		err := x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     x.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		x.logger.Info(ctx, "collection created", zap.String("collection", name))
	}
	return x.ensurePayloadIndexes(ctx, name)
}

func (x *Index) ensureHybrid(ctx context.Context, name string) error {
	exists, err := x.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		err := x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				DenseVectorName: {
					Size:     x.cfg.VectorSize,
					Distance: qdrant.Distance_Cosine,
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				SparseVectorName: {},
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create hybrid collection %s: %w", name, err)
		}
		x.logger.Info(ctx, "hybrid collection created", zap.String("collection", name))
	}
	return x.ensurePayloadIndexes(ctx, name)
}

// ensurePayloadIndexes creates the mandatory filter indexes. Creating an
// existing index is a no-op error we tolerate.
func (x *Index) ensurePayloadIndexes(ctx context.Context, collection string) error {
	indexes := []struct {
		field string
		ftype qdrant.FieldType
	}{
		{"tenant_id", qdrant.FieldType_FieldTypeInteger},
		{"channel_id", qdrant.FieldType_FieldTypeInteger},
		{"source_type", qdrant.FieldType_FieldTypeKeyword},
	}
	for _, idx := range indexes {
		_, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      idx.field,
			FieldType:      idx.ftype.Enum(),
		})
		if err != nil && !IsTransientError(err) {
			// Index already present is fine; anything transient is not.
			x.logger.Debug(ctx, "field index create skipped",
				zap.String("collection", collection),
				zap.String("field", idx.field),
				zap.Error(err))
		}
	}
	return nil
}
