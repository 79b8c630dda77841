package docstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"politicalassistant/internal/apperr"
)

// PayloadIndexKind selects the Qdrant payload index type.
type PayloadIndexKind string

const (
	PayloadKeyword PayloadIndexKind = "keyword"
	PayloadText    PayloadIndexKind = "text"
)

// PayloadIndexSpec describes one `create_payload_index` call.
type PayloadIndexSpec struct {
	Field       string
	Kind        PayloadIndexKind
	IsTenant    bool
	Tokenizer   string
	MinTokenLen int
	MaxTokenLen int
	Lowercase   bool
}

// Point is a single chunk vector plus mirrored payload fields, ready to
// upsert.
type Point struct {
	DocID      string
	ChunkIndex int
	Vector     []float32
	Payload    map[string]any
}

// VectorHit is a single ANN result, ordered by descending score by the caller
// of Search.
type VectorHit struct {
	DocID      string
	ChunkIndex int
	Score      float64
	Payload    map[string]any
}

// Filter is a conjunctive equality filter over payload fields (owner,
// document_id, etc). Callers never need more than AND-of-equals plus an
// optional "document_id in (...)" clause, modeled by DocIDs.
type Filter struct {
	Eq     map[string]string
	DocIDs []string // when non-empty, restricts to these document ids
}

// VectorIndex is the Qdrant client: collections with a fixed vector size, cosine
// distance, and a payload schema.
type VectorIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	distance   qdrant.Distance

	dsn string

	mu              sync.Mutex
	healthy         bool
	probeInterval   time.Duration
	stopProbe       chan struct{}
}

// NewVectorIndex connects to Qdrant over gRPC (default port 6334) and
// ensures the collection exists.
func NewVectorIndex(ctx context.Context, dsn, collection string, dimension int, probeInterval time.Duration) (*VectorIndex, error) {
	v := &VectorIndex{
		collection:    collection,
		dimension:     dimension,
		distance:      qdrant.Distance_Cosine,
		dsn:           dsn,
		probeInterval: probeInterval,
		stopProbe:     make(chan struct{}),
	}
	if err := v.connect(ctx); err != nil {
		return nil, err
	}
	if err := v.EnsureCollection(ctx, collection, dimension, nil); err != nil {
		return nil, err
	}
	if probeInterval > 0 {
		go v.healthProbeLoop()
	}
	return v, nil
}

func (v *VectorIndex) connect(ctx context.Context) error {
	parsed, err := url.Parse(v.dsn)
	if err != nil {
		return apperr.New(apperr.Permanent, "vectorindex", "parse dsn", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return apperr.New(apperr.Permanent, "vectorindex", "parse port", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return apperr.New(apperr.Transient, "vectorindex", "connect", err)
	}
	v.mu.Lock()
	if v.client != nil {
		_ = v.client.Close()
	}
	v.client = client
	v.healthy = true
	v.mu.Unlock()
	return nil
}

// healthProbeLoop re-probes the connection on an interval and transparently
// reconnects on persistent failure, including TLS mismatches.
func (v *VectorIndex) healthProbeLoop() {
	ticker := time.NewTicker(v.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stopProbe:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := v.client.HealthCheck(ctx)
			cancel()
			if err != nil {
				v.mu.Lock()
				v.healthy = false
				v.mu.Unlock()
				_ = v.connect(context.Background())
			}
		}
	}
}

// Close stops the health probe and closes the client.
func (v *VectorIndex) Close() error {
	close(v.stopProbe)
	return v.client.Close()
}

// EnsureCollection is idempotent: create the collection with the configured
// vector size/distance and the requested payload indexes if it does not
// exist yet.
func (v *VectorIndex) EnsureCollection(ctx context.Context, name string, vecSize int, indexes []PayloadIndexSpec) error {
	exists, err := v.client.CollectionExists(ctx, name)
	if err != nil {
		return apperr.New(apperr.Transient, "vectorindex", "collection exists", err)
	}
	if !exists {
		if vecSize <= 0 {
			return apperr.New(apperr.InvalidInput, "vectorindex", "vector size must be > 0", nil)
		}
		err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vecSize),
				Distance: v.distance,
			}),
		})
		if err != nil {
			return apperr.New(apperr.Transient, "vectorindex", "create collection", err)
		}
	}
	for _, idx := range indexes {
		if err := v.createPayloadIndex(ctx, name, idx); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorIndex) createPayloadIndex(ctx context.Context, collection string, spec PayloadIndexSpec) error {
	var fieldType qdrant.FieldType
	params := &qdrant.PayloadIndexParams{}
	switch spec.Kind {
	case PayloadText:
		fieldType = qdrant.FieldType_FieldTypeText
		tp := &qdrant.TextIndexParams{Tokenizer: tokenizerType(spec.Tokenizer)}
		if spec.Lowercase {
			lc := true
			tp.Lowercase = &lc
		}
		if spec.MinTokenLen > 0 {
			n := uint64(spec.MinTokenLen)
			tp.MinTokenLen = &n
		}
		if spec.MaxTokenLen > 0 {
			n := uint64(spec.MaxTokenLen)
			tp.MaxTokenLen = &n
		}
		params.IndexParams = &qdrant.PayloadIndexParams_TextIndexParams{TextIndexParams: tp}
	default:
		fieldType = qdrant.FieldType_FieldTypeKeyword
		kp := &qdrant.KeywordIndexParams{}
		if spec.IsTenant {
			tenant := true
			kp.IsTenant = &tenant
		}
		params.IndexParams = &qdrant.PayloadIndexParams_KeywordIndexParams{KeywordIndexParams: kp}
	}
	_, err := v.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName:   collection,
		FieldName:        spec.Field,
		FieldType:        fieldType.Enum(),
		FieldIndexParams: params,
	})
	if err != nil {
		// Idempotent: Qdrant returns an error for an already-existing index;
		// treat "already exists" as success.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return apperr.New(apperr.Transient, "vectorindex", "create payload index", err)
	}
	return nil
}

// PointID derives the deterministic numeric/UUID id for a chunk from
// doc_id+chunk_index. Qdrant only accepts UUIDs or unsigned ints as
// point ids, so we hash into a UUID and keep the logical id in the payload.
func PointID(docID string, chunkIndex int) string {
	key := fmt.Sprintf("%s#%d", docID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func tokenizerType(name string) qdrant.TokenizerType {
	switch name {
	case "word":
		return qdrant.TokenizerType_Word
	case "whitespace":
		return qdrant.TokenizerType_Whitespace
	case "prefix":
		return qdrant.TokenizerType_Prefix
	case "multilingual":
		return qdrant.TokenizerType_Multilingual
	default:
		return qdrant.TokenizerType_Word
	}
}

const payloadOriginalDocField = "_doc_id"
const payloadOriginalChunkField = "_chunk_index"

// DefaultPayloadIndexes is the index set the chunks collection needs: the
// owner as the tenant keyword field, the document-id keyword field backing
// per-document filters, and a word-tokenised text index over the mirrored
// chunk text with the 2..50 token length bounds.
func DefaultPayloadIndexes() []PayloadIndexSpec {
	return []PayloadIndexSpec{
		{Field: "owner_id", Kind: PayloadKeyword, IsTenant: true},
		{Field: payloadOriginalDocField, Kind: PayloadKeyword},
		{Field: "text", Kind: PayloadText, Tokenizer: "word", MinTokenLen: 2, MaxTokenLen: 50, Lowercase: true},
	}
}

// Upsert batches point writes; each point carries a deterministic id so
// re-ingestion replaces rather than duplicates.
func (v *VectorIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload)+2)
		for k, val := range p.Payload {
			payload[k] = val
		}
		payload[payloadOriginalDocField] = p.DocID
		payload[payloadOriginalChunkField] = p.ChunkIndex
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.DocID, p.ChunkIndex)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return apperr.New(apperr.Transient, "vectorindex", "upsert", err)
	}
	return nil
}

func buildFilter(f Filter) *qdrant.Filter {
	if len(f.Eq) == 0 && len(f.DocIDs) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f.Eq)+1)
	for k, val := range f.Eq {
		must = append(must, qdrant.NewMatch(k, val))
	}
	if len(f.DocIDs) == 1 {
		must = append(must, qdrant.NewMatch(payloadOriginalDocField, f.DocIDs[0]))
	} else if len(f.DocIDs) > 1 {
		vals := make([]string, len(f.DocIDs))
		copy(vals, f.DocIDs)
		must = append(must, qdrant.NewMatchKeywords(payloadOriginalDocField, vals...))
	}
	return &qdrant.Filter{Must: must}
}

// Search runs ANN over collection, returning hits ordered by descending
// score, applying a score threshold when provided.
func (v *VectorIndex) Search(ctx context.Context, collection string, queryVector []float32, filter Filter, limit int, scoreThreshold *float64) ([]VectorHit, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(queryVector))
	copy(vec, queryVector)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          ptrUint64(uint64(limit)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if scoreThreshold != nil {
		st := float32(*scoreThreshold)
		req.ScoreThreshold = &st
	}
	hits, err := v.client.Query(ctx, req)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "vectorindex", "search", err)
	}
	out := make([]VectorHit, 0, len(hits))
	for _, h := range hits {
		docID, idx, payload := splitPayload(h.Payload)
		out = append(out, VectorHit{DocID: docID, ChunkIndex: idx, Score: float64(h.Score), Payload: payload})
	}
	return out, nil
}

func splitPayload(p map[string]*qdrant.Value) (string, int, map[string]any) {
	payload := make(map[string]any, len(p))
	var docID string
	var idx int
	for k, val := range p {
		switch k {
		case payloadOriginalDocField:
			docID = val.GetStringValue()
		case payloadOriginalChunkField:
			idx = int(val.GetIntegerValue())
		default:
			payload[k] = val.GetStringValue()
		}
	}
	return docID, idx, payload
}

// Scroll performs a paged, unordered scan used for random sampling, listing,
// and the "reconstruct full text" shortcut. Results are returned in
// whatever order the backend yields; callers that need chunk_index order
// (e.g. full-text reconstruction) must sort.
func (v *VectorIndex) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]VectorHit, string, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Limit:          ptrUint32(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if offset != "" {
		req.Offset = qdrant.NewIDUUID(offset)
	}
	resp, err := v.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", apperr.New(apperr.Transient, "vectorindex", "scroll", err)
	}
	out := make([]VectorHit, 0, len(resp))
	for _, pt := range resp {
		docID, idx, payload := splitPayload(pt.Payload)
		out = append(out, VectorHit{DocID: docID, ChunkIndex: idx, Payload: payload})
	}
	var next string
	if len(resp) > 0 {
		last := resp[len(resp)-1]
		next = last.Id.GetUuid()
	}
	return out, next, nil
}

// Delete removes all points matching filter.
func (v *VectorIndex) Delete(ctx context.Context, collection string, filter Filter) error {
	qf := buildFilter(filter)
	if qf == nil {
		return apperr.New(apperr.InvalidInput, "vectorindex", "delete requires a non-empty filter", nil)
	}
	_, err := v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(qf),
	})
	if err != nil {
		return apperr.New(apperr.Transient, "vectorindex", "delete", err)
	}
	return nil
}

// Count returns the number of points matching filter.
func (v *VectorIndex) Count(ctx context.Context, collection string, filter Filter, exact bool) (int, error) {
	resp, err := v.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, apperr.New(apperr.Transient, "vectorindex", "count", err)
	}
	return int(resp), nil
}

// Dimension reports the configured vector dimension.
func (v *VectorIndex) Dimension() int { return v.dimension }

func ptrUint64(n uint64) *uint64 { return &n }
func ptrUint32(n uint32) *uint32 { return &n }
