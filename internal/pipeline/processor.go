package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/AnyUserName/avifbatch/internal/dedup"
	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/hasher"
	"github.com/AnyUserName/avifbatch/internal/imagefile"
	"github.com/AnyUserName/avifbatch/internal/scorer"
)

// writeReq carries an encoded output from a worker to a writer. The source
// pixels are gone by then; only the encoded bytes stay in memory.
type writeReq struct {
	res      Result
	data     []byte
	diff     []byte // PNG overlay, optional
	cacheKey string
	start    time.Time
}

// process runs one job up to the point where its output is ready to write.
// It returns either a terminal Result or a write request.
func (s *Scheduler) process(ctx, workCtx context.Context, d dispatched) (Result, *writeReq) {
	job := d.job
	start := time.Now()
	res := Result{Job: job, InputSize: job.Size, Quality: job.Quality}
	if err := ctx.Err(); err != nil {
		return cancelled(job, err), nil
	}

	threads := s.budget.Allot(d.remaining)
	release, err := s.budget.Acquire(ctx, threads)
	if err != nil {
		return cancelled(job, err), nil
	}
	released := false
	releaseThreads := func() {
		if !released {
			released = true
			release()
		}
	}
	defer releaseThreads()
	res.Threads = threads

	claimed := false
	fail := func(op string, err error) (Result, *writeReq) {
		if claimed {
			s.cfg.Index.Release(res.SourceDigest, job.ID)
		}
		return failed(res, op, err, start), nil
	}

	s.state(job, StateDecoding)
	digest, size, err := hasher.FileDigest(job.SourcePath)
	if err != nil {
		return fail("read", err)
	}
	res.SourceDigest = digest
	res.InputSize = size

	if owner, ok := s.cfg.Index.Claim(digest, job.ID); !ok {
		s.logger.Info("duplicate content, skipping", "path", job.SourcePath, "digest", digest.Short(), "owner", owner)
		res.Status = StatusSkipped
		res.SkipReason = SkipDuplicate
		res.Elapsed = time.Since(start)
		return res, nil
	}
	claimed = true

	cacheKey := s.cfg.Settings.CacheKey(s.cfg.Encoder.Name(), job.Quality, job.Speed)
	if !s.cfg.Settings.Benchmark {
		if e, ok := s.cfg.Cache.Lookup(digest, cacheKey); ok && s.sameTarget(job, e.OutputPath) {
			s.logger.Debug("cached output, skipping", "path", job.SourcePath, "output", e.OutputPath)
			res.Status = StatusSkipped
			res.SkipReason = SkipCached
			res.OutputPath = e.OutputPath
			res.OutputDigest = e.OutputDigest
			res.Elapsed = time.Since(start)
			return res, nil
		}
	}

	img, err := imagefile.Read(job.SourcePath, s.cfg.Settings.Limits, s.cfg.Settings.Read)
	if err != nil {
		return fail("decode", err)
	}
	px := img.Pixels
	res.Width, res.Height = px.Width, px.Height

	opts := s.cfg.Settings.Encoder
	opts.Quality = job.Quality
	opts.Speed = job.Speed
	opts.Threads = threads
	opts.EXIF = img.Meta.EXIF

	s.state(job, StateEncoding)
	var (
		data  []byte
		score scorer.Score
	)
	if s.cfg.Settings.TargetSSIM > 0 && s.cfg.Scorer.Enabled() && !opts.Lossless {
		sr, err := scorer.Search(workCtx, scorer.SearchOptions{
			Target:      s.cfg.Settings.TargetSSIM,
			MinQuality:  s.cfg.Settings.MinQuality,
			MaxQuality:  s.cfg.Settings.MaxQuality,
			MaxAttempts: s.cfg.Settings.SearchAttempts,
		}, func(ctx context.Context, q int) ([]byte, scorer.Score, error) {
			o := opts
			o.Quality = q
			out, err := s.encode(ctx, px, o)
			if err != nil {
				return nil, scorer.Score{}, err
			}
			sc, err := s.score(ctx, px, out, threads)
			return out, sc, err
		})
		if err != nil {
			return fail("encode", err)
		}
		if !sr.Met {
			s.logger.Warn("target SSIM not reached, keeping best attempt",
				"path", job.SourcePath, "target", s.cfg.Settings.TargetSSIM, "ssim", sr.Score.SSIM, "quality", sr.Quality)
		}
		data, score, res.Quality = sr.Data, sr.Score, sr.Quality
	} else {
		data, err = s.encode(workCtx, px, opts)
		if err != nil {
			return fail("encode", err)
		}
		if s.cfg.Scorer.Enabled() {
			s.state(job, StateScoring)
			score, err = s.score(workCtx, px, data, threads)
			if err != nil {
				return fail("score", err)
			}
		}
	}

	var diff []byte
	if s.cfg.Settings.SaveDiff && score.Diff != nil {
		if diff, err = overlayPNG(px, score.Diff); err != nil {
			s.logger.Warn("render SSIM overlay", "path", job.SourcePath, "error", err)
		}
	}
	px, img = nil, nil
	releaseThreads()

	s.state(job, StateHashing)
	res.OutputDigest = hasher.Sum(data)
	res.EncodedSize = int64(len(data))
	res.Scored, res.SSIM, res.PSNR = score.Measured, score.SSIM, score.PSNR

	dest := job.DestinationPath
	stem := strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))
	res.OutputPath = filepath.Join(filepath.Dir(dest), s.cfg.Settings.Naming.Name(stem, data))

	return res, &writeReq{res: res, data: data, diff: diff, cacheKey: cacheKey, start: start}
}

// encode runs the encoder but stops waiting once ctx is done. Backends that
// cannot be interrupted keep running in the background until they return,
// and their output is dropped.
func (s *Scheduler) encode(ctx context.Context, px *imagefile.PixelBuffer, opts encoder.Options) ([]byte, error) {
	type encoded struct {
		data []byte
		err  error
	}
	done := make(chan encoded, 1)
	go func() {
		data, err := s.cfg.Encoder.Encode(ctx, px, opts)
		done <- encoded{data, err}
	}()
	select {
	case e := <-done:
		return e.data, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// score decodes the encoded output and compares it with the source.
func (s *Scheduler) score(ctx context.Context, orig *imagefile.PixelBuffer, data []byte, threads int) (scorer.Score, error) {
	decoded, err := encoder.Decode(data)
	if err != nil {
		return scorer.Score{}, err
	}
	return s.cfg.Scorer.Score(ctx, orig, decoded, threads)
}

// sameTarget reports whether a cached output sits where this job would write.
// Content-based names differ per encode, so only the directory is compared
// for them.
func (s *Scheduler) sameTarget(job Job, output string) bool {
	if s.cfg.Settings.Naming.ContentBased() {
		return filepath.Dir(output) == filepath.Dir(job.DestinationPath)
	}
	return output == job.DestinationPath
}

// write stores an encoded output and finishes the job. In benchmark mode
// nothing reaches the disk and the cache is left alone.
func (s *Scheduler) write(ctx context.Context, req writeReq) Result {
	res := req.res
	job := res.Job
	if s.cfg.Settings.Benchmark {
		if err := ctx.Err(); err != nil {
			s.cfg.Index.Release(res.SourceDigest, job.ID)
			return failed(res, "write", err, req.start)
		}
		res.Status = StatusDone
		res.Elapsed = time.Since(req.start)
		return res
	}
	s.state(job, StateWriting)

	if err := writeAtomic(ctx, res.OutputPath, req.data); err != nil {
		s.cfg.Index.Release(res.SourceDigest, job.ID)
		return failed(res, "write", err, req.start)
	}
	s.cfg.Index.Complete(res.SourceDigest, job.ID, res.OutputPath, res.OutputDigest)
	if req.diff != nil {
		if err := writeAtomic(ctx, diffPath(res.OutputPath), req.diff); err != nil {
			s.logger.Warn("write SSIM overlay", "path", res.OutputPath, "error", err)
		}
	}

	if err := s.cfg.Cache.Record(dedup.Entry{
		Digest:       res.SourceDigest,
		OutputPath:   res.OutputPath,
		OutputDigest: res.OutputDigest,
		Settings:     req.cacheKey,
	}); err != nil {
		s.logger.Warn("cache record failed", "path", job.SourcePath, "error", err)
	}

	if s.cfg.Settings.DeleteSource {
		s.deleteSource(res)
	}

	res.Status = StatusDone
	res.Elapsed = time.Since(req.start)
	return res
}

// deleteSource removes the source once the output on disk is verified to
// hold exactly the encoded bytes.
func (s *Scheduler) deleteSource(res Result) {
	if res.OutputPath == res.Job.SourcePath {
		return
	}
	onDisk, _, err := hasher.FileDigest(res.OutputPath)
	if err != nil || onDisk != res.OutputDigest {
		s.logger.Warn("output not verified, keeping source", "path", res.Job.SourcePath, "error", err)
		return
	}
	if err := os.Remove(res.Job.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("delete source", "path", res.Job.SourcePath, "error", err)
		return
	}
	s.logger.Debug("source deleted", "path", res.Job.SourcePath)
}

func failed(res Result, op string, err error, start time.Time) Result {
	je := newJobError(op, res.Job.SourcePath, err)
	res.Status = StatusFailed
	if je.Kind == KindCancelled {
		res.Status = StatusCancelled
	}
	res.Kind = je.Kind
	res.Err = je
	res.Elapsed = time.Since(start)
	return res
}

// overlayPNG blends the difference map over the source, as a PNG.
func overlayPNG(px *imagefile.PixelBuffer, diff *image.Gray) ([]byte, error) {
	out := imaging.Overlay(px.Image(), diff, image.Pt(0, 0), 0.4)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
