/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package uws drives asynchronous UWS jobs (move, recursive delete and
// recursive property updates) from creation to a terminal phase.
package uws

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/option"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/metrics"
	"github.com/opencadc/govos/param"
	"github.com/opencadc/govos/transfer"
)

type (
	Phase string

	// Result holds the partial-success counts of a finished job.
	Result struct {
		Success int
		Errors  int
	}

	// Job is the parsed job document.
	Job struct {
		ID           string
		Phase        Phase
		ErrorMessage string
		Results      map[string]string
	}

	Option = option.Interface

	identOptionTransfer struct{}
	identOptionMaxPolls struct{}
	identOptionPollWait struct{}

	settings struct {
		transferOpts []transfer.Option
		maxPolls     int
		pollWait     time.Duration
	}

	xmlJob struct {
		XMLName      xml.Name       `xml:"job"`
		JobID        string         `xml:"jobId"`
		Phase        *string        `xml:"phase"`
		Results      []xmlResult    `xml:"results>result"`
		ErrorSummary *xmlErrSummary `xml:"errorSummary"`
	}

	xmlResult struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	}

	xmlErrSummary struct {
		Message *string `xml:"message"`
	}
)

const (
	PhasePending   Phase = "PENDING"
	PhaseQueued    Phase = "QUEUED"
	PhaseExecuting Phase = "EXECUTING"
	PhaseSuspended Phase = "SUSPENDED"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseAborted   Phase = "ABORTED"

	defaultMaxPolls = 100
	defaultPollWait = 6 * time.Second
	abortTimeout    = 5 * time.Second

	formContentType = "application/x-www-form-urlencoded"
)

// WithTransferOptions passes options (retry policy, sleeper, credentials
// headers) to every request the job makes.
func WithTransferOptions(opts ...transfer.Option) Option {
	return option.New(identOptionTransfer{}, opts)
}

// WithMaxPolls bounds the number of non-terminal phase polls.
func WithMaxPolls(polls int) Option {
	return option.New(identOptionMaxPolls{}, polls)
}

// WithPollWait sets the WAIT long-poll duration sent with each poll.
func WithPollWait(wait time.Duration) Option {
	return option.New(identOptionPollWait{}, wait)
}

func newSettings(opts []Option) settings {
	s := settings{
		maxPolls: param.Client_JobMaxPolls.GetInt(),
		pollWait: param.Client_JobPollWait.GetDuration(),
	}
	if s.maxPolls <= 0 {
		s.maxPolls = defaultMaxPolls
	}
	if s.pollWait <= 0 {
		s.pollWait = defaultPollWait
	}
	for _, opt := range opts {
		switch opt.Ident() {
		case identOptionTransfer{}:
			s.transferOpts = append(s.transferOpts, opt.Value().([]transfer.Option)...)
		case identOptionMaxPolls{}:
			s.maxPolls = opt.Value().(int)
		case identOptionPollWait{}:
			s.pollWait = opt.Value().(time.Duration)
		}
	}
	return s
}

func (p Phase) terminal() bool {
	return p == PhaseCompleted || p == PhaseError || p == PhaseAborted
}

// Create POSTs a job description to an async endpoint and returns the URL
// of the job the service created.
func Create(ctx context.Context, session transfer.Session, endpoint string, body []byte, contentType string, opts ...Option) (string, error) {
	s := newSettings(opts)
	xferOpts := append([]transfer.Option{
		transfer.WithBody(body),
		transfer.WithContentType(contentType),
		transfer.WithFollowRedirects(false),
	}, s.transferOpts...)
	xfer, err := transfer.Open(ctx, session, []string{endpoint}, http.MethodPost, xferOpts...)
	if err != nil {
		return "", err
	}
	defer xfer.Close()
	jobURL, err := xfer.Location()
	if err != nil {
		return "", err
	}
	if xfer.StatusCode() != http.StatusSeeOther {
		return "", error_codes.New(error_codes.KindProtocol, endpoint, "unexpected response %d creating job", xfer.StatusCode()).WithStatus(xfer.StatusCode())
	}
	log.Debugf("Created job %s", jobURL)
	return jobURL, nil
}

// Run moves a created job to EXECUTING and polls it to a terminal phase.
// If ctx ends while the job is still running, the job is aborted.
func Run(ctx context.Context, session transfer.Session, jobURL string, opts ...Option) (Result, error) {
	s := newSettings(opts)
	fields := log.Fields{"job": jobURL}

	if err := setPhase(ctx, session, jobURL, "RUN", s); err != nil {
		return Result{}, err
	}
	log.WithFields(fields).Debugln("Job started")

	pollURL, err := withWait(jobURL, s.pollWait)
	if err != nil {
		return Result{}, err
	}
	for polls := 0; ; polls++ {
		if polls >= s.maxPolls {
			return Result{}, error_codes.New(error_codes.KindExhausted, jobURL,
				"job did not finish after %d polls", polls)
		}
		if ctx.Err() != nil {
			return Result{}, abortCancelled(ctx, session, jobURL, s)
		}
		job, err := fetch(ctx, session, pollURL, jobURL, s)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, abortCancelled(ctx, session, jobURL, s)
			}
			return Result{}, err
		}
		metrics.VOSJobPollsTotal.Inc()
		log.WithFields(fields).Debugf("Job phase %s", job.Phase)

		switch job.Phase {
		case PhaseQueued, PhaseExecuting, PhaseSuspended:
			continue
		case PhaseError:
			metrics.VOSJobsTotal.WithLabelValues(string(metrics.JobError)).Inc()
			message := job.ErrorMessage
			if message == "" {
				message = "Failed"
			}
			return Result{}, error_codes.New(error_codes.KindJobFailed, jobURL, "%s", message)
		case PhaseCompleted, PhaseAborted:
			if job.Phase == PhaseCompleted {
				metrics.VOSJobsTotal.WithLabelValues(string(metrics.JobCompleted)).Inc()
			} else {
				metrics.VOSJobsTotal.WithLabelValues(string(metrics.JobAborted)).Inc()
			}
			return job.result()
		default:
			return Result{}, error_codes.New(error_codes.KindProtocol, jobURL, "Unknown job phase: %s", job.Phase)
		}
	}
}

// RunJob creates a job and runs it to completion.
func RunJob(ctx context.Context, session transfer.Session, endpoint string, body []byte, contentType string, opts ...Option) (Result, error) {
	jobURL, err := Create(ctx, session, endpoint, body, contentType, opts...)
	if err != nil {
		return Result{}, err
	}
	return Run(ctx, session, jobURL, opts...)
}

// Abort asks the service to stop a job.  It is best effort: the job may
// already be in a terminal phase.
func Abort(ctx context.Context, session transfer.Session, jobURL string, opts ...Option) error {
	return setPhase(ctx, session, jobURL, "ABORT", newSettings(opts))
}

// ErrorText returns the plain-text error document of a failed job.
func ErrorText(ctx context.Context, session transfer.Session, jobURL string, opts ...Option) (string, error) {
	s := newSettings(opts)
	xfer, err := transfer.Open(ctx, session, []string{strings.TrimSuffix(jobURL, "/") + "/error"}, http.MethodGet, s.transferOpts...)
	if err != nil {
		return "", err
	}
	body, err := xfer.ReadAll()
	if err != nil {
		return "", err
	}
	return error_codes.StripHTML(string(body)), nil
}

// abortCancelled sends ABORT on a context detached from the cancelled one
// and returns the cancellation cause.
func abortCancelled(ctx context.Context, session transfer.Session, jobURL string, s settings) error {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	if err := setPhase(abortCtx, session, jobURL, "ABORT", s); err != nil {
		log.WithField("job", jobURL).Warningf("Failed to abort job: %v", err)
	} else {
		log.WithField("job", jobURL).Infoln("Job aborted")
		metrics.VOSJobsTotal.WithLabelValues(string(metrics.JobAborted)).Inc()
	}
	return ctx.Err()
}

func setPhase(ctx context.Context, session transfer.Session, jobURL, phase string, s settings) error {
	phaseURL := strings.TrimSuffix(jobURL, "/") + "/phase"
	xferOpts := append([]transfer.Option{
		transfer.WithBody([]byte("PHASE=" + phase)),
		transfer.WithContentType(formContentType),
		transfer.WithFollowRedirects(false),
	}, s.transferOpts...)
	xfer, err := transfer.Open(ctx, session, []string{phaseURL}, http.MethodPost, xferOpts...)
	if err != nil {
		return err
	}
	defer xfer.Close()
	if err := xfer.Send(); err != nil {
		return err
	}
	if xfer.StatusCode() != http.StatusSeeOther {
		return error_codes.New(error_codes.KindProtocol, phaseURL,
			"unexpected response %d setting phase %s", xfer.StatusCode(), phase).WithStatus(xfer.StatusCode())
	}
	return nil
}

func withWait(jobURL string, wait time.Duration) (string, error) {
	parsed, err := url.Parse(jobURL)
	if err != nil {
		return "", error_codes.Wrap(error_codes.KindProtocol, jobURL, err, "invalid job URL")
	}
	query := parsed.Query()
	query.Set("WAIT", strconv.Itoa(int(wait.Seconds())))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func fetch(ctx context.Context, session transfer.Session, pollURL, jobURL string, s settings) (*Job, error) {
	xfer, err := transfer.Open(ctx, session, []string{pollURL}, http.MethodGet, s.transferOpts...)
	if err != nil {
		return nil, err
	}
	body, err := xfer.ReadAll()
	if err != nil {
		return nil, err
	}
	return Parse(jobURL, body)
}

// Parse decodes a UWS job document.
func Parse(jobURL string, body []byte) (*Job, error) {
	var doc xmlJob
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, error_codes.Wrap(error_codes.KindProtocol, jobURL, err, "invalid job document")
	}
	if doc.Phase == nil {
		return nil, error_codes.New(error_codes.KindProtocol, jobURL, "Cannot determine job phase")
	}
	job := &Job{
		ID:      strings.TrimSpace(doc.JobID),
		Phase:   Phase(strings.ToUpper(strings.TrimSpace(*doc.Phase))),
		Results: make(map[string]string, len(doc.Results)),
	}
	if doc.ErrorSummary != nil && doc.ErrorSummary.Message != nil {
		job.ErrorMessage = strings.TrimSpace(*doc.ErrorSummary.Message)
	}
	for _, res := range doc.Results {
		job.Results[res.ID] = res.Href
	}
	return job, nil
}

func (j *Job) result() (Result, error) {
	var res Result
	var err error
	if res.Success, err = j.count("successcount"); err != nil {
		return Result{}, err
	}
	if res.Errors, err = j.count("errorcount"); err != nil {
		return Result{}, err
	}
	return res, nil
}

// count reads a result of the form "final:N", the value after the first colon.
func (j *Job) count(id string) (int, error) {
	href, ok := j.Results[id]
	if !ok {
		return 0, nil
	}
	_, value, found := strings.Cut(href, ":")
	if !found {
		value = href
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, error_codes.Wrap(error_codes.KindProtocol, j.ID, err, "invalid %s result %q", id, href)
	}
	return n, nil
}
