// Package gateway is the idempotent write surface for external event
// submissions. Payloads are schema-validated before any effect; an
// idempotency key makes retries converge on the first submission's result.
package gateway

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/policy"
	"github.com/caregraph/sentinel/internal/store"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Result is the gateway's response to a submission.
//
// Duplicate=true means the submission was absorbed without side effects:
// either the idempotency key was already recorded, or the source row was
// already normalized. The ids returned are always the winner's.
type Result struct {
	FactID      string           `json:"fact_id"`
	Abnormality fact.Abnormality `json:"abnormality"`
	Duplicate   bool             `json:"duplicate"`
}

// envelope is the decoded submission wrapper. Payload stays raw until the
// signal type selects its schema.
type envelope struct {
	SignalType string          `json:"signal_type"`
	ResidentID string          `json:"resident_id"`
	Source     *fact.SourceRef `json:"source"`
	Payload    json.RawMessage `json:"payload"`
}

// Gateway validates, normalizes, and durably records submissions.
type Gateway struct {
	store      *store.Store
	normalizer *policy.Normalizer
	envelope   *jsonschema.Schema
	payloads   map[fact.SignalType]*jsonschema.Schema
	logger     *slog.Logger
	now        func() int64
}

// New builds a gateway over the store and normalizer. Compiles the
// embedded schemas; a compile failure is a programming error surfaced at
// startup, not per-request.
func New(st *store.Store, n *policy.Normalizer, logger *slog.Logger) (*Gateway, error) {
	compiler := jsonschema.NewCompiler()

	names := map[string]string{
		"envelope":                           "schemas/envelope.json",
		string(fact.SignalMedicationAdmin):   "schemas/medication_admin.json",
		string(fact.SignalVitalSign):         "schemas/vital_sign.json",
		string(fact.SignalTaskCompletion):    "schemas/task_completion.json",
		string(fact.SignalFamilyObservation): "schemas/family_observation.json",
	}
	for name, path := range names {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("gateway: read schema %s: %w", path, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gateway: parse schema %s: %w", path, err)
		}
		if err := compiler.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("gateway: add schema %s: %w", path, err)
		}
	}

	g := &Gateway{
		store:      st,
		normalizer: n,
		payloads:   map[fact.SignalType]*jsonschema.Schema{},
		logger:     logger,
		now:        func() int64 { return time.Now().Unix() },
	}

	var err error
	if g.envelope, err = compiler.Compile("envelope.json"); err != nil {
		return nil, fmt.Errorf("gateway: compile envelope schema: %w", err)
	}
	for _, sig := range fact.KnownSignalTypes {
		if g.payloads[sig], err = compiler.Compile(string(sig) + ".json"); err != nil {
			return nil, fmt.Errorf("gateway: compile %s schema: %w", sig, err)
		}
	}

	return g, nil
}

// WithClock overrides the timestamp source. Test hook.
func (g *Gateway) WithClock(now func() int64) *Gateway {
	g.now = now
	return g
}

// Submit processes one submission.
//
// With an idempotency key, a repeated key returns the first submission's
// stored result with Duplicate=true and performs no side effects; the
// submission is processed at most once no matter how many times it is
// retried. Without a key the submission always executes, guarded only by
// source-row uniqueness.
//
// Validation precedes every effect: an invalid payload changes nothing,
// records nothing, and claims no key.
func (g *Gateway) Submit(ctx context.Context, key string, raw []byte) (Result, error) {
	if key != "" {
		rec, found, err := g.store.LookupIdempotency(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if found {
			g.logger.Debug("duplicate submission", "key", key)
			return duplicateResult(rec)
		}
	}

	env, payloadObj, err := g.validate(raw)
	if err != nil {
		return Result{}, err
	}

	src := fact.SourceRef{Table: "gateway", ID: key}
	if env.Source != nil {
		src = *env.Source
	} else if key == "" {
		src.ID = uuid.NewString()
	}

	f, err := g.normalize(env, src, payloadObj)
	if err != nil {
		return Result{}, err
	}

	inserted, err := g.store.InsertSignalFact(ctx, f)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// Source row already normalized; surface the existing fact.
		existing, err := g.store.FactBySource(ctx, src)
		if err != nil {
			return Result{}, fmt.Errorf("gateway: source %s already normalized but unreadable: %w", src, err)
		}
		f = existing
	}

	result := Result{FactID: f.ID, Abnormality: f.Abnormality, Duplicate: !inserted}

	if key != "" {
		stored, err := g.recordKey(ctx, key, payloadObj, result)
		if err != nil {
			return Result{}, err
		}
		result = stored
	}

	g.logger.Info("submission processed",
		"resident", f.ResidentID,
		"signal_type", f.Type,
		"abnormality", f.Abnormality,
		"duplicate", result.Duplicate,
	)

	return result, nil
}

// validate checks the envelope and the type-specific payload schema, then
// converts the payload to the canonical value model. Floats are rejected
// there, keeping stored payloads hashable.
func (g *Gateway) validate(raw []byte) (envelope, fact.Object, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: malformed submission: %w", err)
	}
	if err := g.envelope.Validate(inst); err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: invalid envelope: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: decode envelope: %w", err)
	}

	st, err := fact.ParseSignalType(env.SignalType)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: %w", err)
	}

	payloadInst, err := jsonschema.UnmarshalJSON(bytes.NewReader(env.Payload))
	if err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: malformed payload: %w", err)
	}
	if err := g.payloads[st].Validate(payloadInst); err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: invalid %s payload: %w", st, err)
	}

	v, err := fact.UnmarshalValue(env.Payload)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("gateway: payload: %w", err)
	}
	obj, ok := v.(fact.Object)
	if !ok {
		return envelope{}, nil, fmt.Errorf("gateway: payload is not an object")
	}

	return env, obj, nil
}

func (g *Gateway) normalize(env envelope, src fact.SourceRef, payloadObj fact.Object) (fact.SignalFact, error) {
	st, _ := fact.ParseSignalType(env.SignalType)

	switch st {
	case fact.SignalMedicationAdmin:
		p, err := fact.MedicationPayloadFromObject(payloadObj)
		if err != nil {
			return fact.SignalFact{}, fmt.Errorf("gateway: %w", err)
		}
		return g.normalizer.NormalizeMedication(env.ResidentID, src, p)
	case fact.SignalVitalSign:
		p, err := fact.VitalPayloadFromObject(payloadObj)
		if err != nil {
			return fact.SignalFact{}, fmt.Errorf("gateway: %w", err)
		}
		return g.normalizer.NormalizeVital(env.ResidentID, src, p)
	case fact.SignalTaskCompletion:
		p, err := fact.TaskPayloadFromObject(payloadObj)
		if err != nil {
			return fact.SignalFact{}, fmt.Errorf("gateway: %w", err)
		}
		return g.normalizer.NormalizeTask(env.ResidentID, src, p)
	case fact.SignalFamilyObservation:
		p, err := fact.ObservationPayloadFromObject(payloadObj)
		if err != nil {
			return fact.SignalFact{}, fmt.Errorf("gateway: %w", err)
		}
		return g.normalizer.NormalizeObservation(env.ResidentID, src, p)
	}

	return fact.SignalFact{}, fmt.Errorf("gateway: unhandled signal type %q", env.SignalType)
}

// recordKey writes the idempotency record. On a lost race the winner's
// stored result is returned instead of ours.
func (g *Gateway) recordKey(ctx context.Context, key string, payloadObj fact.Object, result Result) (Result, error) {
	payloadHash, err := fact.PayloadHash(payloadObj)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: %w", err)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: marshal result: %w", err)
	}

	winner, claimed, err := g.store.PutIdempotency(ctx, fact.IdempotencyRecord{
		Key:         key,
		PayloadHash: payloadHash,
		Result:      string(resultJSON),
		CreatedAt:   g.now(),
	})
	if err != nil {
		return Result{}, err
	}
	if claimed {
		return result, nil
	}

	g.logger.Debug("lost idempotency race", "key", key)
	return duplicateResult(winner)
}

func duplicateResult(rec fact.IdempotencyRecord) (Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(rec.Result), &r); err != nil {
		return Result{}, fmt.Errorf("gateway: stored result for key %s is unreadable: %w", rec.Key, err)
	}
	r.Duplicate = true
	return r, nil
}
