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

package client

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/lestrrat-go/option"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/md5_cache"
	"github.com/opencadc/govos/metrics"
	"github.com/opencadc/govos/negotiation"
	"github.com/opencadc/govos/transfer"
	"github.com/opencadc/govos/vos_url"
)

type (
	// CopyResult describes the bytes that ended up at the destination.
	// Filename is the local path written by a download, or the node URI of
	// an upload.
	CopyResult struct {
		Size     int64
		MD5      string
		Filename string
		Skipped  bool
	}

	CopyOption = option.Interface

	identCopyOptionHead     struct{}
	identCopyOptionProgress struct{}

	copySettings struct {
		head     bool
		progress transfer.ProgressFunc
	}

	// attemptFunc makes one attempt against a single candidate URL.
	attemptFunc func(target string) (*CopyResult, error)
)

const (
	directionGet = "get"
	directionPut = "put"
)

// WithHead downloads only the header of a data node instead of its content.
func WithHead() CopyOption {
	return option.New(identCopyOptionHead{}, true)
}

// WithProgress reports the bytes moved so far by each attempt.
func WithProgress(fn transfer.ProgressFunc) CopyOption {
	return option.New(identCopyOptionProgress{}, fn)
}

// Copy moves bytes between a local file and a data node.  Exactly one of
// src and dst must be a node URI.
func (c *Client) Copy(ctx context.Context, src, dst string, opts ...CopyOption) (*CopyResult, error) {
	var s copySettings
	for _, opt := range opts {
		switch opt.Ident() {
		case identCopyOptionHead{}:
			s.head = opt.Value().(bool)
		case identCopyOptionProgress{}:
			s.progress = opt.Value().(transfer.ProgressFunc)
		}
	}

	srcRemote, dstRemote := vos_url.IsRemote(src), vos_url.IsRemote(dst)
	var direction string
	var result *CopyResult
	var err error
	switch {
	case srcRemote && dstRemote:
		return nil, error_codes.New(error_codes.KindUnsupported, src, "copying between two remote locations is not supported (%s -> %s)", src, dst)
	case !srcRemote && !dstRemote:
		return nil, error_codes.New(error_codes.KindBadRequest, src, "one of %s and %s must be a node URI", src, dst)
	case srcRemote:
		direction = directionGet
		result, err = c.download(ctx, src, dst, s)
	default:
		direction = directionPut
		result, err = c.upload(ctx, src, dst, s)
	}

	switch {
	case err != nil:
		metrics.VOSCopiesTotal.WithLabelValues(direction, "error").Inc()
		return nil, error_codes.Wrap(error_codes.KindOf(err), src, err, "Failed copying %s -> %s", src, dst)
	case result.Skipped:
		metrics.VOSCopiesTotal.WithLabelValues(direction, "skipped").Inc()
	default:
		metrics.VOSCopiesTotal.WithLabelValues(direction, "ok").Inc()
	}
	return result, nil
}

// attempt tries each URL in turn.  A URL that fails with an intermittent
// error goes to the back of the queue until it has been retried
// maxIntermittent times.
func (c *Client) attempt(ctx context.Context, urls []string, errs *TransferErrors, once attemptFunc) (*CopyResult, error) {
	queue := append([]string(nil), urls...)
	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		result, err := once(target)
		if err == nil {
			return result, nil
		}
		errs.AddError(target, err)
		if ctx.Err() != nil {
			return nil, err
		}
		if error_codes.IsRetryable(err) && errs.TriesFor(target) <= c.maxIntermittent {
			log.Debugf("Intermittent failure on %s (%v), will retry", target, err)
			queue = append(queue, target)
		} else {
			log.Debugf("Giving up on %s: %v", target, err)
		}
	}
	return nil, errs
}

func without(urls []string, errs *TransferErrors) []string {
	var remaining []string
	for _, u := range urls {
		if errs.TriesFor(u) == 0 {
			remaining = append(remaining, u)
		}
	}
	return remaining
}

func (c *Client) download(ctx context.Context, src, dst string, s copySettings) (*CopyResult, error) {
	filename, cutout, ok := vos_url.SplitCutout(src)
	if !ok {
		return nil, error_codes.New(error_codes.KindBadRequest, src, "illegal file name")
	}
	view := vos_url.ViewData
	switch {
	case cutout != "":
		view = vos_url.ViewCutout
		src = filename
	case s.head:
		view = vos_url.ViewHeader
	}
	uri, err := c.FixURI(src)
	if err != nil {
		return nil, err
	}

	errs := NewTransferErrors()
	once := func(target string) (*CopyResult, error) {
		return c.getOnce(ctx, target, uri, dst, view, s)
	}
	req := negotiation.Request{Method: http.MethodGet, View: view, Cutout: cutout}
	urls, err := c.negotiator.ResolveURL(ctx, uri, req)
	switch {
	case err == nil:
		if result, err := c.attempt(ctx, urls, errs, once); err == nil {
			return result, nil
		}
	case error_codes.KindOf(err) == error_codes.KindBadRequest, error_codes.KindOf(err) == error_codes.KindUnsupported:
		return nil, err
	default:
		errs.AddError(uri, err)
	}
	if ctx.Err() != nil {
		return nil, errs
	}

	// An empty node has no bytes to serve, which some services report as
	// a failure
	n, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return nil, err
	}
	if n.IsFile() && n.Length() == 0 && view == vos_url.ViewData {
		log.Debugf("%s is empty, creating an empty local file", uri)
		local := localTarget(dst, n.Name())
		if err := os.WriteFile(local, nil, 0644); err != nil {
			return nil, error_codes.Wrap(error_codes.KindIO, local, err, "failed to create file")
		}
		return &CopyResult{Size: 0, MD5: md5_cache.ZeroMD5, Filename: local}, nil
	}

	req.FullNegotiation = true
	urls, err = c.negotiator.ResolveURL(ctx, uri, req)
	if err != nil {
		errs.AddError(uri, err)
		return nil, errs
	}
	if urls = without(urls, errs); len(urls) == 0 {
		return nil, errs
	}
	return c.attempt(ctx, urls, errs, once)
}

// localTarget puts the file inside dst when dst is an existing directory.
func localTarget(dst, name string) string {
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return filepath.Join(dst, filepath.Base(name))
	}
	return dst
}

func (c *Client) getOnce(ctx context.Context, target, uri, dst, view string, s copySettings) (*CopyResult, error) {
	opts := c.xferOpts()
	if s.progress != nil {
		opts = append(opts, transfer.WithProgress(s.progress))
	}
	xfer, err := transfer.Open(ctx, c.session, []string{target}, http.MethodGet, opts...)
	if err != nil {
		return nil, err
	}
	defer xfer.Close()
	if err := xfer.Send(); err != nil {
		return nil, err
	}

	name := xfer.Filename()
	if name == "" {
		name = path.Base(uri)
	}
	local := localTarget(dst, name)
	file, err := os.Create(local)
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindIO, local, err, "failed to create file")
	}
	hash := md5.New()
	bw := bufio.NewWriterSize(io.MultiWriter(file, hash), c.bufferSize)
	written, err := io.Copy(bw, xfer)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := file.Close(); err == nil && cerr != nil {
		err = error_codes.Wrap(error_codes.KindIO, local, cerr, "failed to close file")
	}
	if err != nil {
		if _, ok := err.(*error_codes.VOSError); !ok {
			err = error_codes.Wrap(error_codes.KindIO, local, err, "download failed")
		}
		return nil, err
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if view == vos_url.ViewData {
		if size := xfer.Size(); size >= 0 && size != written {
			return nil, error_codes.Wrap(error_codes.KindIO, target, io.ErrUnexpectedEOF, "received %d of %d bytes", written, size)
		}
		if expected := xfer.MD5(); expected != "" && expected != sum {
			return nil, error_codes.New(error_codes.KindChecksumMismatch, target, "MD5s do not match: expected %s, got %s", expected, sum)
		}
	}
	log.Debugf("Downloaded %d bytes of %s to %s", written, uri, local)
	return &CopyResult{Size: written, MD5: sum, Filename: local}, nil
}

func (c *Client) upload(ctx context.Context, src, dst string, s copySettings) (*CopyResult, error) {
	info, err := os.Stat(src)
	switch {
	case os.IsNotExist(err):
		return nil, error_codes.Wrap(error_codes.KindNotFound, src, err, "no such file")
	case err != nil:
		return nil, error_codes.Wrap(error_codes.KindIO, src, err, "cannot read file")
	case info.IsDir():
		return nil, error_codes.New(error_codes.KindBadRequest, src, "is a directory")
	}

	uri, err := c.FixURI(dst)
	if err != nil {
		return nil, err
	}
	dstNode, found, err := c.exists(ctx, uri)
	if err != nil {
		return nil, err
	}
	if found && dstNode.IsDir() {
		uri = vos_url.Join(uri, filepath.Base(src))
		if dstNode, found, err = c.exists(ctx, uri); err != nil {
			return nil, err
		}
	}

	vol := c.cache.Volatile(uri)
	defer vol.Close()

	if info.Size() == 0 {
		if found {
			if err := c.Delete(ctx, uri); err != nil {
				return nil, err
			}
		}
		if err := c.Create(ctx, uri); err != nil {
			return nil, err
		}
		return &CopyResult{Size: 0, MD5: md5_cache.ZeroMD5, Filename: uri}, nil
	}

	srcMD5, err := c.md5.Compute(ctx, src)
	if err != nil {
		return nil, error_codes.Wrap(error_codes.KindIO, src, err, "failed to checksum")
	}
	if found && dstNode.IsFile() && dstNode.Length() == info.Size() && dstNode.MD5() == srcMD5 {
		log.Infof("%s and %s are identical, skipping the transfer", src, uri)
		if _, err := c.Update(ctx, dstNode, false); err != nil {
			return nil, err
		}
		return &CopyResult{Size: dstNode.Length(), MD5: dstNode.MD5(), Filename: uri, Skipped: true}, nil
	}

	urls, err := c.negotiator.ResolveURL(ctx, uri, negotiation.Request{Method: http.MethodPut})
	if err != nil {
		return nil, err
	}
	errs := NewTransferErrors()
	return c.attempt(ctx, urls, errs, func(target string) (*CopyResult, error) {
		return c.putOnce(ctx, target, uri, src, info.Size(), srcMD5, s)
	})
}

type bufferedFile struct {
	*bufio.Reader
	file *os.File
}

func (bf bufferedFile) Close() error {
	return bf.file.Close()
}

func (c *Client) putOnce(ctx context.Context, target, uri, src string, size int64, srcMD5 string, s copySettings) (*CopyResult, error) {
	body := func() (io.ReadCloser, error) {
		file, err := os.Open(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", src)
		}
		return bufferedFile{Reader: bufio.NewReaderSize(file, c.bufferSize), file: file}, nil
	}
	opts := append(c.xferOpts(),
		transfer.WithBodyFunc(body, size),
		transfer.WithFilename(filepath.Base(src)),
		transfer.WithHeader("Content-MD5", srcMD5),
	)
	if s.progress != nil {
		opts = append(opts, transfer.WithProgress(s.progress))
	}
	xfer, err := transfer.Open(ctx, c.session, []string{target}, http.MethodPut, opts...)
	if err != nil {
		return nil, err
	}
	err = xfer.Send()
	xfer.Close()
	if err != nil {
		return nil, err
	}

	n, err := c.GetNode(ctx, uri, GetNodeOptions{Limit: negotiation.Limit(0), Force: true})
	if err != nil {
		return nil, err
	}
	if remote := n.MD5(); remote != "" && remote != srcMD5 {
		return nil, error_codes.New(error_codes.KindChecksumMismatch, uri, "MD5s do not match: sent %s, stored %s", srcMD5, remote)
	}
	log.Debugf("Uploaded %d bytes of %s to %s", size, src, uri)
	return &CopyResult{Size: size, MD5: srcMD5, Filename: uri}, nil
}
