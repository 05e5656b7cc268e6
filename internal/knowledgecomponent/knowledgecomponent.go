// Package knowledgecomponent bridges the Embedding Client and Vector Store
// halves of C7 into the VM's generic Component contract, the way
// internal/llmcomponent bridges C5/C6: a factory closure resolves attrs
// into a concrete *embedding.Client plus a vectorstore.Store, and this
// package wraps the pair as a vm.Component exposing instant CallMethod
// methods rather than an iterative one (text->vector and nearest-neighbor
// search both return a single result, unlike token-streaming inference).
package knowledgecomponent

import (
	"context"

	"ailoy/internal/aerr"
	"ailoy/internal/embedding"
	"ailoy/internal/value"
	"ailoy/internal/vectorstore"
	"ailoy/internal/vm"
)

const (
	methodEmbed  = "embed"
	methodUpsert = "upsert"
	methodDelete = "delete"
	methodSearch = "search"
)

// Factory adapts a resolver of attrs -> (*embedding.Client, vectorstore.Store)
// into a vm.Factory, so RegisterType("knowledge_store", ...) can define
// components directly from a define packet's attrs.
func Factory(resolve func(id string, attrs value.Value) (*embedding.Client, vectorstore.Store, error)) vm.Factory {
	return func(id string, attrs value.Value) (vm.Component, error) {
		client, store, err := resolve(id, attrs)
		if err != nil {
			return nil, err
		}
		return &component{client: client, store: store}, nil
	}
}

type component struct {
	client *embedding.Client
	store  vectorstore.Store
}

func (c *component) CallMethod(ctx context.Context, method string, inputs value.Value) (value.Value, error) {
	switch method {
	case methodEmbed:
		return c.embed(ctx, inputs)
	case methodUpsert:
		return c.upsert(ctx, inputs)
	case methodDelete:
		return c.delete(ctx, inputs)
	case methodSearch:
		return c.search(ctx, inputs)
	default:
		return value.Value{}, aerr.New(aerr.NotFound, "method %q is not a method on a knowledge_store component", method)
	}
}

func (c *component) IterMethod(ctx context.Context, method string, inputs value.Value) (<-chan vm.IterFrame, error) {
	return nil, aerr.New(aerr.NotFound, "method %q is not an iterative method on a knowledge_store component", method)
}

func (c *component) Close() error { return nil }

func (c *component) embed(ctx context.Context, inputs value.Value) (value.Value, error) {
	textsVal, ok := inputs.Get("texts")
	if !ok {
		return value.Value{}, aerr.New(aerr.Validation, "embed: missing texts")
	}
	items, err := textsVal.Array()
	if err != nil {
		return value.Value{}, aerr.Wrap(aerr.Validation, err, "embed: texts must be an array")
	}
	texts := make([]string, len(items))
	for i, item := range items {
		s, err := item.String()
		if err != nil {
			return value.Value{}, aerr.Wrap(aerr.Validation, err, "embed: texts[%d] must be a string", i)
		}
		texts[i] = s
	}
	vectors, err := c.client.Embed(ctx, texts)
	if err != nil {
		return value.Value{}, err
	}
	out := value.NewMap()
	out.Set("vectors", encodeVectors(vectors))
	return out, nil
}

func (c *component) upsert(ctx context.Context, inputs value.Value) (value.Value, error) {
	idVal, ok := inputs.Get("id")
	if !ok {
		return value.Value{}, aerr.New(aerr.Validation, "upsert: missing id")
	}
	id, err := idVal.String()
	if err != nil {
		return value.Value{}, aerr.Wrap(aerr.Validation, err, "upsert: id must be a string")
	}
	vectorVal, ok := inputs.Get("vector")
	if !ok {
		return value.Value{}, aerr.New(aerr.Validation, "upsert: missing vector")
	}
	vector, err := decodeVector(vectorVal)
	if err != nil {
		return value.Value{}, err
	}
	metadata, err := decodeMetadata(inputs)
	if err != nil {
		return value.Value{}, err
	}
	if err := c.store.Upsert(ctx, id, vector, metadata); err != nil {
		return value.Value{}, err
	}
	return value.Null(), nil
}

func (c *component) delete(ctx context.Context, inputs value.Value) (value.Value, error) {
	idVal, ok := inputs.Get("id")
	if !ok {
		return value.Value{}, aerr.New(aerr.Validation, "delete: missing id")
	}
	id, err := idVal.String()
	if err != nil {
		return value.Value{}, aerr.Wrap(aerr.Validation, err, "delete: id must be a string")
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return value.Value{}, err
	}
	return value.Null(), nil
}

func (c *component) search(ctx context.Context, inputs value.Value) (value.Value, error) {
	vectorVal, ok := inputs.Get("vector")
	if !ok {
		return value.Value{}, aerr.New(aerr.Validation, "search: missing vector")
	}
	vector, err := decodeVector(vectorVal)
	if err != nil {
		return value.Value{}, err
	}
	k := 10
	if kVal, ok := inputs.Get("k"); ok {
		n, err := kVal.Int()
		if err != nil {
			return value.Value{}, aerr.Wrap(aerr.Validation, err, "search: k must be an integer")
		}
		k = int(n)
	}
	filter, err := decodeMetadata(inputs)
	if err != nil {
		return value.Value{}, err
	}
	results, err := c.store.SimilaritySearch(ctx, vector, k, filter)
	if err != nil {
		return value.Value{}, err
	}
	out := value.NewMap()
	out.Set("results", encodeResults(results))
	return out, nil
}

func decodeVector(v value.Value) ([]float32, error) {
	items, err := v.Array()
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "vector must be an array of numbers")
	}
	vector := make([]float32, len(items))
	for i, item := range items {
		f, err := item.Float64()
		if err != nil {
			return nil, aerr.Wrap(aerr.Validation, err, "vector[%d] must be a number", i)
		}
		vector[i] = float32(f)
	}
	return vector, nil
}

func decodeMetadata(inputs value.Value) (map[string]string, error) {
	metaVal, ok := inputs.Get("metadata")
	if !ok {
		return nil, nil
	}
	entries, err := metaVal.MapEntries()
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "metadata must be a map")
	}
	metadata := make(map[string]string, len(entries))
	for _, kv := range entries {
		s, err := kv.Val.String()
		if err != nil {
			return nil, aerr.Wrap(aerr.Validation, err, "metadata[%q] must be a string", kv.Key)
		}
		metadata[kv.Key] = s
	}
	return metadata, nil
}

func encodeVectors(vectors [][]float32) value.Value {
	vs := make([]value.Value, len(vectors))
	for i, vec := range vectors {
		vs[i] = encodeVector(vec)
	}
	return value.Array(vs...)
}

func encodeVector(vec []float32) value.Value {
	vs := make([]value.Value, len(vec))
	for i, f := range vec {
		vs[i] = value.Float32(f)
	}
	return value.Array(vs...)
}

func encodeResults(results []vectorstore.Result) value.Value {
	vs := make([]value.Value, len(results))
	for i, r := range results {
		m := value.NewMap()
		m.Set("id", value.String(r.ID))
		m.Set("score", value.Float64(r.Score))
		metadata := value.NewMap()
		for k, v := range r.Metadata {
			metadata.Set(k, value.String(v))
		}
		m.Set("metadata", metadata)
		vs[i] = m
	}
	return value.Array(vs...)
}
