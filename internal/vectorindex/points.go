package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/embeddings"
)

// Point is one indexed unit: a session of chat or a document chunk. Preview
// is a bounded excerpt; full content lives only in the store.
type Point struct {
	ID         uuid.UUID
	TenantID   int64
	ChannelID  int64
	SourceType string
	MessageIDs []int64
	Preview    string
	StartedAt  string
	EndedAt    string
	ParentFile string
}

// Hit is one scored search result.
type Hit struct {
	ID         string
	Score      float32
	TenantID   int64
	ChannelID  int64
	SourceType string
	MessageIDs []int64
	Preview    string
	ParentFile string
}

// buildPayload serializes a point's payload. tenant_id is always present;
// upsert paths validate that before calling.
func buildPayload(p Point) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"tenant_id":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: p.TenantID}},
		"channel_id":  {Kind: &qdrant.Value_IntegerValue{IntegerValue: p.ChannelID}},
		"source_type": {Kind: &qdrant.Value_StringValue{StringValue: p.SourceType}},
		"preview":     {Kind: &qdrant.Value_StringValue{StringValue: p.Preview}},
	}
	if len(p.MessageIDs) > 0 {
		vals := make([]*qdrant.Value, len(p.MessageIDs))
		for i, id := range p.MessageIDs {
			vals[i] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: id}}
		}
		payload["message_ids"] = &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: vals}}}
	}
	if p.StartedAt != "" {
		payload["started_at"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.StartedAt}}
	}
	if p.EndedAt != "" {
		payload["ended_at"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.EndedAt}}
	}
	if p.ParentFile != "" {
		payload["parent_file"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.ParentFile}}
	}
	return payload
}

// parsePayload extracts a Hit's payload fields.
func parsePayload(payload map[string]*qdrant.Value) (tenantID, channelID int64, sourceType, preview, parentFile string, messageIDs []int64) {
	if v, ok := payload["tenant_id"]; ok {
		tenantID = v.GetIntegerValue()
	}
	if v, ok := payload["channel_id"]; ok {
		channelID = v.GetIntegerValue()
	}
	if v, ok := payload["source_type"]; ok {
		sourceType = v.GetStringValue()
	}
	if v, ok := payload["preview"]; ok {
		preview = v.GetStringValue()
	}
	if v, ok := payload["parent_file"]; ok {
		parentFile = v.GetStringValue()
	}
	if v, ok := payload["message_ids"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			messageIDs = append(messageIDs, item.GetIntegerValue())
		}
	}
	return
}

// UpsertHybrid writes a point with dense and sparse vectors to the hybrid
// collection and waits for the ack; callers record the store binding only
// after this returns nil.
func (x *Index) UpsertHybrid(ctx context.Context, p Point, dense []float32, sparse embeddings.SparseVector) error {
	if p.TenantID == 0 {
		return ErrMissingTenant
	}
	point := &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(p.ID.String()),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			DenseVectorName:  qdrant.NewVectorDense(dense),
			SparseVectorName: qdrant.NewVectorSparse(sparse.Indices, sparse.Values),
		}),
		Payload: buildPayload(p),
	}
	return x.retry(ctx, "upsert hybrid point", func() error {
		_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: x.cfg.HybridCollection,
			Points:         []*qdrant.PointStruct{point},
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// UpsertDense writes a dense-only point to the named collection (legacy
// sessions or DM memory).
func (x *Index) UpsertDense(ctx context.Context, collection string, p Point, dense []float32) error {
	if p.TenantID == 0 {
		return ErrMissingTenant
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID.String()),
		Vectors: qdrant.NewVectors(dense...),
		Payload: buildPayload(p),
	}
	return x.retry(ctx, "upsert dense point", func() error {
		_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         []*qdrant.PointStruct{point},
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// DeleteByMessageIDs removes every point in the tenant whose message_ids
// payload overlaps the given ids, across both session collections.
func (x *Index) DeleteByMessageIDs(ctx context.Context, tenantID int64, messageIDs []int64) error {
	if tenantID == 0 {
		return ErrMissingTenant
	}
	if len(messageIDs) == 0 {
		return nil
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchInt("tenant_id", tenantID),
			qdrant.NewMatchInts("message_ids", messageIDs...),
		},
	}
	for _, collection := range []string{x.cfg.Collection, x.cfg.HybridCollection} {
		collection := collection
		err := x.retry(ctx, "delete points by message ids", func() error {
			_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: collection,
				Points:         qdrant.NewPointsSelectorFilter(filter),
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	x.logger.Info(ctx, "points purged by message ids",
		zap.Int64("tenant_id", tenantID),
		zap.Int("message_count", len(messageIDs)))
	return nil
}

// DeleteByPointIDs removes specific points from a collection.
func (x *Index) DeleteByPointIDs(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qdrant.NewIDUUID(id)
	}
	return x.retry(ctx, "delete points by ids", func() error {
		_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelector(ids...),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// PurgeTenant removes every point belonging to a tenant from all
// collections. This is the right-to-be-forgotten path.
func (x *Index) PurgeTenant(ctx context.Context, tenantID int64) error {
	if tenantID == 0 {
		return ErrMissingTenant
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchInt("tenant_id", tenantID)},
	}
	for _, collection := range []string{x.cfg.Collection, x.cfg.HybridCollection, x.cfg.DMCollection} {
		collection := collection
		err := x.retry(ctx, "purge tenant", func() error {
			_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: collection,
				Points:         qdrant.NewPointsSelectorFilter(filter),
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	x.logger.Info(ctx, "tenant purged from vector index", zap.Int64("tenant_id", tenantID))
	return nil
}

// ScrollTenantPoints pages through a tenant's point ids in a collection.
// offset is the last id of the previous page ("" for the first page); the
// returned next is "" when the scan is done.
func (x *Index) ScrollTenantPoints(ctx context.Context, collection string, tenantID int64, offset string, limit uint32) (ids []string, next string, err error) {
	if tenantID == 0 {
		return nil, "", ErrMissingTenant
	}
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("tenant_id", tenantID)},
		},
		Limit:       qdrant.PtrOf(limit),
		WithPayload: qdrant.NewWithPayload(false),
	}
	if offset != "" {
		req.Offset = qdrant.NewIDUUID(offset)
	}

	var points []*qdrant.RetrievedPoint
	err = x.retry(ctx, "scroll tenant points", func() error {
		var opErr error
		points, opErr = x.client.Scroll(ctx, req)
		return opErr
	})
	if err != nil {
		return nil, "", err
	}

	for _, pt := range points {
		id := pt.GetId().GetUuid()
		if id == offset {
			continue
		}
		ids = append(ids, id)
	}
	if uint32(len(points)) == limit && len(ids) > 0 {
		next = ids[len(ids)-1]
	}
	return ids, next, nil
}

// Collections exposes the configured collection names.
func (x *Index) Collections() (legacy, hybrid, dm string) {
	return x.cfg.Collection, x.cfg.HybridCollection, x.cfg.DMCollection
}

// String implements fmt.Stringer for diagnostics.
func (x *Index) String() string {
	return fmt.Sprintf("vectorindex(%s:%d)", x.cfg.Host, x.cfg.Port)
}
