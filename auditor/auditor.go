package auditor

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/peg"
	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/pegrollup/auditor"

// Auditor follows the chain published on the peg with its own copy of the
// account state. Each block is checked against the last block it accepted.
type Auditor struct {
	mu      sync.Mutex
	binding peg.Binding
	state   *statedb.AccountState
	latest  *types.Commitment
	workers int
	tracer  trace.Tracer
}

// NewAuditor starts an auditor whose state is at the block committed by
// latest.
func NewAuditor(binding peg.Binding, state *statedb.AccountState, latest *types.Commitment, workers int) (*Auditor, error) {
	if latest == nil {
		return nil, internalf("no starting commitment")
	}
	if state.Root() != latest.StateRoot || state.Size() != latest.StateSize {
		return nil, internalf("state root %s does not match block %d root %s", state.Root(), latest.BlockNumber, latest.StateRoot)
	}
	if workers <= 0 {
		workers = 4
	}
	return &Auditor{
		binding: binding,
		state:   state,
		latest:  latest,
		workers: workers,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Latest returns the commitment of the last accepted block.
func (a *Auditor) Latest() *types.Commitment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// AuditBlock checks the block committed by c with body data. A nil proof
// and nil error means the block is valid and the auditor has advanced to
// it. A proof is a fraud finding and leaves the auditor where it was. An
// error wraps ErrInternal.
func (a *Auditor) AuditBlock(ctx context.Context, c *types.Commitment, data []byte) (proof *ErrorProof, err error) {
	ctx, span := a.tracer.Start(ctx, "Auditor.AuditBlock", trace.WithAttributes(attribute.Int("block.number", int(c.BlockNumber))))
	defer func() {
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case proof != nil:
			span.SetAttributes(attribute.String("proof.kind", string(proof.Kind)))
		}
		span.End()
	}()

	a.mu.Lock()
	defer a.mu.Unlock()
	parent := a.latest
	if c.BlockNumber != parent.BlockNumber+1 {
		return nil, internalf("block %d does not follow audited block %d", c.BlockNumber, parent.BlockNumber)
	}
	if common.Keccak256(data) != c.TransactionsHash {
		return nil, internalf("transactions data of block %d does not match its commitment", c.BlockNumber)
	}

	_, sspan := a.tracer.Start(ctx, "Auditor.CheckStructure")
	view, proof, err := checkStructure(c.Header, data, parent)
	sspan.End()
	if proof != nil || err != nil {
		a.report(proof)
		return proof, err
	}

	fork := a.state.Fork()
	ex := &execution{
		view:    view,
		parent:  parent,
		state:   fork,
		workers: a.workers,
	}
	if err := ex.fetchHard(ctx, a.binding); err != nil {
		return nil, err
	}
	sctx, sspan := a.tracer.Start(ctx, "Auditor.CheckSources")
	proof, err = ex.checkSources(sctx)
	sspan.End()
	if proof != nil || err != nil {
		a.report(proof)
		return proof, err
	}
	_, espan := a.tracer.Start(ctx, "Auditor.Reexecute")
	proof, err = ex.reexecute()
	espan.End()
	if proof != nil || err != nil {
		a.report(proof)
		return proof, err
	}

	if err := fork.Commit(); err != nil {
		return nil, internalf("commit block %d: %v", c.BlockNumber, err)
	}
	a.latest = c
	log.Info(log.Auditor, "Auditor: block valid", "number", c.BlockNumber, "txs", len(view.all), "root", c.StateRoot)
	return nil, nil
}

func (a *Auditor) report(p *ErrorProof) {
	if p != nil {
		log.Warn(log.Auditor, "Auditor: invalid block", "number", p.Header.BlockNumber, "kind", p.Kind, "reason", p.Reason)
	}
}

// AuditSubmission audits a peg block submission and submits the resulting
// proof, if any.
func (a *Auditor) AuditSubmission(ctx context.Context, sub *peg.BlockSubmission) (*ErrorProof, error) {
	proof, err := a.AuditBlock(ctx, sub.Commitment, sub.TransactionsData)
	if err != nil || proof == nil {
		return proof, err
	}
	if err := a.SubmitProof(ctx, proof); err != nil {
		return proof, err
	}
	return proof, nil
}

// SubmitProof sends proof to the peg.
func (a *Auditor) SubmitProof(ctx context.Context, proof *ErrorProof) error {
	args, err := proof.Args()
	if err != nil {
		return internalf("encode %s proof: %v", proof.Kind, err)
	}
	if err := a.binding.SubmitErrorProof(ctx, peg.ErrorProofSubmission{Kind: string(proof.Kind), Args: args}); err != nil {
		return fmt.Errorf("submit %s proof: %w", proof.Kind, err)
	}
	return nil
}
