// Package semantic owns all Qdrant operations for the product collection.
package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/retailkiosk/retail-kiosk/engine/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// scrollPageSize is how many points AllSKUs fetches per scroll request.
const scrollPageSize = 256

// VectorStore is the sole owner of the product vector collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

func indexErr(op string, err error) error {
	return fmt.Errorf("semantic: %s: %w", op, errors.Join(domain.ErrIndexUnavailable, err))
}

// EnsureCollection creates the collection with the given dimensionality and
// cosine distance if it does not already exist. Idempotent.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return indexErr("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return indexErr(fmt.Sprintf("create collection %s", v.collection), err)
	}
	return nil
}

// Payload is the denormalized filter metadata stored alongside each product
// vector, so searches can filter server-side without a catalog round-trip.
type Payload struct {
	SKU         string
	Name        string
	Price       float64
	CategoryIDs []int64
}

// Hit is one nearest-neighbor result.
type Hit struct {
	SKU   string
	Score float32
}

// Filters narrows a vector search. Price bounds are inclusive; CategoryIDs
// use any-of semantics.
type Filters struct {
	MinPrice    *float64
	MaxPrice    *float64
	CategoryIDs []int64
}

// Upsert writes the vector for a sku, overwriting any existing record. The
// point id is derived deterministically from the sku, so re-indexing a sku
// always lands on the same record.
func (v *VectorStore) Upsert(ctx context.Context, sku string, vector []float32, payload Payload) error {
	payload.SKU = sku
	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(sku)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: payloadValues(payload),
		}},
	})
	if err != nil {
		return indexErr(fmt.Sprintf("upsert %s", sku), err)
	}
	return nil
}

// Search returns up to limit nearest neighbors for the query vector,
// narrowed server-side by the filters. No matches is an empty result, not
// an error.
func (v *VectorStore) Search(ctx context.Context, vector []float32, limit int, f Filters) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{"sku"}},
			},
		},
		Filter: searchFilter(f),
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, indexErr("search", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		sku := r.GetPayload()["sku"].GetStringValue()
		if sku == "" {
			continue
		}
		hits = append(hits, Hit{SKU: sku, Score: r.GetScore()})
	}
	return hits, nil
}

// Delete removes the record for a sku. Deleting an absent sku is a no-op.
func (v *VectorStore) Delete(ctx context.Context, sku string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{
						PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(sku)},
					}},
				},
			},
		},
	})
	if err != nil {
		return indexErr(fmt.Sprintf("delete %s", sku), err)
	}
	return nil
}

// DeleteMany removes the records for a batch of skus in one round trip.
func (v *VectorStore) DeleteMany(ctx context.Context, skus []string) error {
	if len(skus) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, len(skus))
	for i, sku := range skus {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(sku)}}
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return indexErr(fmt.Sprintf("delete %d points", len(skus)), err)
	}
	return nil
}

// AllSKUs enumerates every sku in the collection, paging through the store
// until exhausted.
func (v *VectorStore) AllSKUs(ctx context.Context) (map[string]struct{}, error) {
	skus := make(map[string]struct{})
	limit := uint32(scrollPageSize)
	var offset *pb.PointId

	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Include{
					Include: &pb.PayloadIncludeSelector{Fields: []string{"sku"}},
				},
			},
		})
		if err != nil {
			return nil, indexErr("scroll", err)
		}

		for _, point := range resp.GetResult() {
			if sku := point.GetPayload()["sku"].GetStringValue(); sku != "" {
				skus[sku] = struct{}{}
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return skus, nil
		}
	}
}

// pointID maps a sku to its stable point id: the MD5 of the sku rendered as
// a canonical UUID (RFC 4122 version 3).
func pointID(sku string) string {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(sku)).String()
}

// payloadValues converts a Payload into Qdrant's value map.
func payloadValues(p Payload) map[string]*pb.Value {
	cats := make([]*pb.Value, len(p.CategoryIDs))
	for i, id := range p.CategoryIDs {
		cats[i] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: id}}
	}
	return map[string]*pb.Value{
		"sku":          {Kind: &pb.Value_StringValue{StringValue: p.SKU}},
		"name":         {Kind: &pb.Value_StringValue{StringValue: p.Name}},
		"price":        {Kind: &pb.Value_DoubleValue{DoubleValue: p.Price}},
		"category_ids": {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: cats}}},
	}
}

// searchFilter translates Filters into Qdrant must-conditions. Nil when no
// filter applies.
func searchFilter(f Filters) *pb.Filter {
	var must []*pb.Condition

	if f.MinPrice != nil {
		must = append(must, rangeCondition("price", &pb.Range{Gte: f.MinPrice}))
	}
	if f.MaxPrice != nil {
		must = append(must, rangeCondition("price", &pb.Range{Lte: f.MaxPrice}))
	}
	if len(f.CategoryIDs) > 0 {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "category_ids",
					Match: &pb.Match{
						MatchValue: &pb.Match_Integers{
							Integers: &pb.RepeatedIntegers{Integers: f.CategoryIDs},
						},
					},
				},
			},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func rangeCondition(key string, r *pb.Range) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Range: r},
		},
	}
}
