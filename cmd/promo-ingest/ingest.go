package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 1_000_000

// scanner finds coupon codes listed in at least minFiles of the input files.
// Pass 1 builds one bloom filter per file. Pass 2 re-reads every file and
// keeps codes that another file's filter may contain, tagged with a bit per
// file. Codes whose merged mask has at least minFiles bits are accepted.
type scanner struct {
	lg       *zap.Logger
	capacity uint
	fpr      float64
	minLen   int
	maxLen   int
	minFiles int
}

func (s *scanner) valid(code string) bool {
	return len(code) >= s.minLen && len(code) <= s.maxLen
}

func normalize(line string) string {
	return strings.ToUpper(strings.TrimSpace(line))
}

func (s *scanner) Scan(ctx context.Context, files []string) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d files are supported", bits.UintSize)
	}
	if s.minFiles <= 1 {
		return s.distinct(ctx, files)
	}

	s.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := s.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	s.lg.Info("Pass 2: finding codes present in several files", zap.Int("min_files", s.minFiles))
	masks := make([]map[string]uint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			m, err := s.candidates(gctx, i, path, filters)
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			masks[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	var codes []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= s.minFiles {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (s *scanner) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(s.capacity, s.fpr)
			var count uint64
			err := streamGzFile(ctx, path, func(code string) {
				if !s.valid(code) {
					return
				}
				filter.AddString(code)
				if count++; count%progressEvery == 0 {
					s.lg.Info("Pass 1 progress", zap.String("file", path), zap.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			s.lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// candidates returns the codes of file idx that some other filter reports.
// The own bit is set so the merged mask counts every file that lists a code.
func (s *scanner) candidates(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	out := make(map[string]uint)
	own := uint(1) << uint(idx)
	err := streamGzFile(ctx, path, func(code string) {
		if !s.valid(code) {
			return
		}
		for j, f := range filters {
			if j != idx && f.TestString(code) {
				out[code] |= own
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	s.lg.Info("Pass 2 complete", zap.String("file", path), zap.Int("candidates", len(out)))
	return out, nil
}

// distinct returns every valid code of every file once.
func (s *scanner) distinct(ctx context.Context, files []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, path := range files {
		if err := streamGzFile(ctx, path, func(code string) {
			if s.valid(code) {
				seen[code] = struct{}{}
			}
		}); err != nil {
			return nil, errors.Wrapf(err, "scan %s", path)
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	return codes, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each normalized
// line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(normalize(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
