// Package fetch provides the generic fetch-then-decode contract the rest of
// the indexer is built on: a Fetcher couples how to retrieve bytes for a
// batch of inputs with how to turn one of those bodies into a typed record.
// Composing fetchers (DecodeBoth) lets two decoders share a single fetched
// body instead of issuing the request twice.
package fetch

import "context"

// Encoded pairs an input with the raw bytes fetched for it.
type Encoded[In any] struct {
	Input In
	Body  []byte
	Err   error
}

// Fetcher bundles a batch fetch function with a decoder for its output.
type Fetcher[In, Out any] struct {
	Fetch  func(ctx context.Context, in []In) ([]Encoded[In], error)
	Decode func(body []byte) (Out, error)
}

// Run fetches every input and decodes each successfully-fetched body,
// preserving input order. A fetch-level error fails the whole call; a
// per-input decode error is returned alongside the partial results so the
// caller can decide whether that is fatal (authoritative data) or tolerable
// (rights/votes/accounts).
func (f Fetcher[In, Out]) Run(ctx context.Context, inputs []In) ([]In, []Out, []error, error) {
	encoded, err := f.Fetch(ctx, inputs)
	if err != nil {
		return nil, nil, nil, err
	}
	ins := make([]In, 0, len(encoded))
	outs := make([]Out, 0, len(encoded))
	errs := make([]error, 0, len(encoded))
	for _, e := range encoded {
		if e.Err != nil {
			var zero Out
			ins = append(ins, e.Input)
			outs = append(outs, zero)
			errs = append(errs, e.Err)
			continue
		}
		out, derr := f.Decode(e.Body)
		ins = append(ins, e.Input)
		outs = append(outs, out)
		errs = append(errs, derr)
	}
	return ins, outs, errs, nil
}

// Pair holds the two decoded outputs derived from one fetched body.
type Pair[A, B any] struct {
	A A
	B B
}

// DecodeBoth fetches each input's body once and feeds it to two independent
// decoders, so a single body (e.g. blocks/{hash}/operations) can produce
// both the operation groups and the touched-account-ids extracted from the
// same JSON without a second round-trip to the node.
func DecodeBoth[In, A, B any](fetchFn func(ctx context.Context, in []In) ([]Encoded[In], error), decodeA func([]byte) (A, error), decodeB func([]byte) (B, error)) Fetcher[In, Pair[A, B]] {
	return Fetcher[In, Pair[A, B]]{
		Fetch: fetchFn,
		Decode: func(body []byte) (Pair[A, B], error) {
			a, err := decodeA(body)
			if err != nil {
				return Pair[A, B]{}, err
			}
			b, err := decodeB(body)
			if err != nil {
				return Pair[A, B]{}, err
			}
			return Pair[A, B]{A: a, B: b}, nil
		},
	}
}
