// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
)

const (
	// multipartOverhead allows for boundaries and small text fields on top of
	// the file size limit.
	multipartOverhead = 64 << 10
	maxFieldBytes     = 1 << 10
)

var (
	sourceFields = map[string]bool{"cctvId": true, "source": true}
	errNoFile    = errors.New("no file part in request")
)

// handleUpload streams the multipart body straight into a run: the file part
// is never buffered in memory or spooled by net/http.
func (s *Server) handleUpload(mode model.Mode, fileFields ...string) http.HandlerFunc {
	accept := make(map[string]bool, len(fileFields))
	for _, f := range fileFields {
		accept[f] = true
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := log.WithComponentFromContext(ctx, "api")

		if limit := s.limitFor(mode); limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		}
		mr, err := r.MultipartReader()
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, string(model.KindInput), "expected a multipart/form-data upload")
			return
		}

		run, err := s.pipeline.Begin(ctx, mode)
		switch {
		case errors.Is(err, worker.ErrClosed), errors.Is(err, worker.ErrUnsupportedMode):
			logger.Warn().Err(err).Str(log.FieldMode, string(mode)).Msg("upload refused")
			writeProblem(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
			return
		case err != nil:
			logger.Error().Err(err).Msg("could not start run")
			writeProblem(w, r, http.StatusInternalServerError, string(model.KindInternal), "could not start run")
			return
		}

		if err := receive(ctx, run, mr, accept); err != nil {
			writeOutcome(w, run.Abort(ctx, err))
			return
		}

		execCtx, done := s.runContext(r)
		defer done()
		writeOutcome(w, run.Execute(execCtx))
	}
}

// receive walks the multipart parts. Source fields may come before or after
// the file; only the first accepted file part is used.
func receive(ctx context.Context, run *worker.Run, mr *multipart.Reader, accept map[string]bool) error {
	got := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return bodyFailure(ctx, err)
		}

		name := part.FormName()
		switch {
		case sourceFields[name] && part.FileName() == "":
			v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				_ = part.Close()
				return bodyFailure(ctx, err)
			}
			run.SetSource(string(v))
		case accept[name] && !got:
			if err := run.Ingest(ctx, part, part.FileName()); err != nil {
				_ = part.Close()
				return err
			}
			got = true
		}
		// Close drains whatever the handler did not read.
		if err := part.Close(); err != nil {
			return bodyFailure(ctx, err)
		}
	}
	if !got {
		return model.NewFailure(model.KindInput, model.StageIngest, "no file uploaded", errNoFile)
	}
	return nil
}

func bodyFailure(ctx context.Context, err error) *model.Failure {
	var maxBytes *http.MaxBytesError
	switch {
	case ctx.Err() != nil:
		return model.NewFailure(model.KindCanceled, model.StageIngest, "upload interrupted", err)
	case errors.As(err, &maxBytes):
		return model.NewFailure(model.KindInput, model.StageIngest, "upload too large",
			fmt.Errorf("%w: %v", worker.ErrTooLarge, err))
	default:
		return model.NewFailure(model.KindInput, model.StageIngest, "malformed multipart body", err)
	}
}
