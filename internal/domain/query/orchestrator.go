package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarthealth/clinqa/internal/domain/answer"
	"github.com/smarthealth/clinqa/internal/domain/audit"
	"github.com/smarthealth/clinqa/internal/domain/clinical"
	"github.com/smarthealth/clinqa/internal/domain/retrieval"
)

// Stage names a step of query resolution, in execution order.
type Stage string

const (
	StageValidating    Stage = "validating"
	StagePatientLookup Stage = "patient_lookup"
	StageRetrieving    Stage = "retrieving"
	StageContextBuild  Stage = "context_build"
	StageGenerating    Stage = "generating"
	StageSourceBuild   Stage = "source_build"
	StageAuditWrite    Stage = "audit_write"
)

// Observer is told when a stage starts. It runs on the pipeline goroutine
// and must not block.
type Observer func(Stage)

type RecordFetcher interface {
	Fetch(ctx context.Context, documentTypeID int, documentNumber string) (*clinical.Result, error)
}

type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) []retrieval.SimilarChunk
}

type ContextBuilder interface {
	Build(patient *clinical.PatientInfo, records clinical.Records, chunks []retrieval.SimilarChunk, maxTokens int) (string, int, error)
}

type AnswerGenerator interface {
	Generate(ctx context.Context, question, clinicalContext string) (*answer.Answer, error)
}

type AuditSink interface {
	NextSequence(ctx context.Context, userID int64, sessionID string) int
	Record(ctx context.Context, e audit.Entry) error
}

type Options struct {
	QueryTimeout     time.Duration
	SearchTimeout    time.Duration
	ContextMaxTokens int
	TopK             int
	MinScore         float64
	// Model is reported for answers that did not come from the generator.
	Model string
	// ExposeErrors puts internal error text into error details.
	ExposeErrors bool
}

type Orchestrator struct {
	records   RecordFetcher
	search    Searcher
	builder   ContextBuilder
	generator AnswerGenerator
	audit     AuditSink
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

func NewOrchestrator(records RecordFetcher, search Searcher, builder ContextBuilder, generator AnswerGenerator, sink AuditSink, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		records:   records,
		search:    search,
		builder:   builder,
		generator: generator,
		audit:     sink,
		opts:      opts,
		logger:    logger.With().Str("component", "query").Logger(),
		now:       time.Now,
	}
}

// Handle resolves one question. It always returns a response: business
// failures become error envelopes and the whole run is bounded by
// QueryTimeout.
func (o *Orchestrator) Handle(ctx context.Context, in Input, observe Observer) *Response {
	start := o.now()
	if observe == nil {
		observe = func(Stage) {}
	}
	env := Envelope{SessionID: in.SessionID, SequenceChatID: 1}
	log := o.logger.With().Int64("user_id", in.UserID).Str("session_id", in.SessionID).Logger()

	observe(StageValidating)
	v, err := Validate(in)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.injection {
			log.Warn().Int("document_type_id", in.DocumentTypeID).Msg("possible injection attempt rejected")
		} else {
			log.Info().Str("reason", err.Error()).Msg("query input rejected")
		}
		return o.fail(env, CodeInvalidInput, err.Error(), "Verify that the submitted data is correct")
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.QueryTimeout)
	defer cancel()

	// The sequence lookup hits the database, so it runs inside the deadline.
	// A timeout before it resolves reports sequence 1.
	done := make(chan *Response, 1)
	go func() {
		runEnv := env
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("query pipeline panicked")
				done <- o.fail(runEnv, CodeInternalError, "internal server error", o.detail(fmt.Errorf("%v", r), ""))
			}
		}()
		guarded := func(s Stage) {
			if ctx.Err() == nil {
				observe(s)
			}
		}
		runEnv.SequenceChatID = o.audit.NextSequence(ctx, in.UserID, in.SessionID)
		done <- o.run(ctx, log, runEnv, in, v, start, guarded)
	}()

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return o.aborted(log, env, ctx.Err())
	}
}

func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger, env Envelope, in Input, v Validated, start time.Time, observe Observer) *Response {
	observe(StagePatientLookup)
	res, err := o.records.Fetch(ctx, in.DocumentTypeID, v.DocumentNumber)
	if err != nil {
		if ctx.Err() != nil {
			return o.aborted(log, env, ctx.Err())
		}
		log.Warn().Str("error_type", errorType(err)).Str("error", err.Error()).Msg("patient lookup failed")
		return o.fail(env, CodeDatabaseError, "error retrieving patient data", o.detail(err, "The clinical database is temporarily unavailable"))
	}
	docType := clinical.DocumentTypeCode(in.DocumentTypeID)
	if res.Patient == nil {
		log.Info().Int("document_type_id", in.DocumentTypeID).Msg("patient not found")
		return o.fail(env, CodePatientNotFound,
			fmt.Sprintf("no patient found with document %s %s", docType, v.DocumentNumber),
			"Verify the document type and number")
	}
	patient := res.Patient

	observe(StageRetrieving)
	sctx, scancel := context.WithTimeout(ctx, o.opts.SearchTimeout)
	chunks := o.search.Search(sctx, retrieval.Query{
		PatientID: patient.ID,
		Question:  v.Question,
		K:         o.opts.TopK,
		MinScore:  o.opts.MinScore,
	})
	if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn().Dur("timeout", o.opts.SearchTimeout).Msg("semantic search timed out, continuing without chunks")
	}
	scancel()
	if ctx.Err() != nil {
		return o.aborted(log, env, ctx.Err())
	}

	observe(StageContextBuild)
	text, tokens, err := o.builder.Build(patient, res.Records, chunks, o.opts.ContextMaxTokens)
	if err != nil {
		log.Error().Err(err).Int64("patient_id", patient.ID).Msg("context build failed")
		return o.fail(env, CodeContextBuildError, "error building clinical context", o.detail(err, ""))
	}

	result := &Result{
		PatientInfo: PatientSummary{
			PatientID:      patient.ID,
			FullName:       patient.FullName(),
			DocumentType:   docType,
			DocumentNumber: patient.DocumentNumber,
		},
		Sources: []Source{},
	}
	total := res.Records.Count() + len(chunks)

	switch {
	case total == 0:
		result.Answer = answer.Answer{
			Text:       fmt.Sprintf("Patient %s has no clinical records registered in the system.", patient.FullName()),
			Confidence: 1.0,
			Model:      o.opts.Model,
		}
	default:
		result.Metadata.TotalRecordsAnalyzed = total
		result.Metadata.ContextTokens = tokens

		observe(StageGenerating)
		ans, err := o.generator.Generate(ctx, v.Question, text)
		if err != nil {
			if ctx.Err() != nil {
				return o.aborted(log, env, ctx.Err())
			}
			log.Warn().Err(err).Msg("answer generation failed, using record summary")
			result.Answer = answer.Answer{
				Text:       answer.Fallback(res.Records, v.Question),
				Confidence: answer.FallbackConfidence,
				Model:      answer.FallbackModel,
			}
			break
		}
		result.Answer = *ans

		observe(StageSourceBuild)
		result.Sources = o.buildSources(log, res.Records, chunks)
		result.Metadata.SourcesUsed = len(result.Sources)
	}

	env.Status = StatusSuccess
	env.Timestamp = Timestamp(o.now())
	result.Metadata.QueryTimeMS = o.now().Sub(start).Milliseconds()
	resp := &Response{Envelope: env, Result: result}

	log.Info().
		Int64("patient_id", patient.ID).
		Int("records", total).
		Str("model", result.Answer.Model).
		Int64("query_time_ms", result.Metadata.QueryTimeMS).
		Msg("query answered")

	observe(StageAuditWrite)
	o.recordAudit(ctx, log, in, v, resp)
	return resp
}

func (o *Orchestrator) buildSources(log zerolog.Logger, records clinical.Records, chunks []retrieval.SimilarChunk) (sources []Source) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("source attribution failed")
			sources = []Source{}
		}
	}()
	return BuildSources(records, chunks)
}

// recordAudit never changes resp; failures are logged and dropped.
func (o *Orchestrator) recordAudit(ctx context.Context, log zerolog.Logger, in Input, v Validated, resp *Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Warn().Err(err).Msg("audit payload encoding failed")
		return
	}
	err = o.audit.Record(ctx, audit.Entry{
		UserID:         in.UserID,
		SessionID:      in.SessionID,
		SequenceChatID: resp.SequenceChatID,
		DocumentTypeID: in.DocumentTypeID,
		DocumentNumber: v.DocumentNumber,
		Question:       v.Question,
		Response:       payload,
	})
	if err != nil {
		log.Warn().Err(err).Msg("audit write skipped")
	}
}

func (o *Orchestrator) aborted(log zerolog.Logger, env Envelope, err error) *Response {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Error().Dur("timeout", o.opts.QueryTimeout).Msg("query exceeded its deadline")
		return o.fail(env, CodeRequestTimeout,
			fmt.Sprintf("the request exceeded the maximum time of %d seconds", int(o.opts.QueryTimeout.Seconds())),
			"Try again with a more specific question")
	}
	log.Warn().Err(err).Msg("query cancelled by caller")
	return o.fail(env, CodeInternalError, "the request was cancelled", o.detail(err, ""))
}

func (o *Orchestrator) fail(env Envelope, code Code, message, details string) *Response {
	env.Status = StatusError
	env.Timestamp = Timestamp(o.now())
	return &Response{Envelope: env, Error: &ErrorBody{Code: code, Message: message, Details: details}}
}

// detail returns err's text in development and hint otherwise.
func (o *Orchestrator) detail(err error, hint string) string {
	if o.opts.ExposeErrors && err != nil {
		return err.Error()
	}
	return hint
}

// errorType names the innermost wrapped error's type.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
