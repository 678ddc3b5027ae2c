// Package ingest loads extracted document texts into the metadata store:
// filename metadata parsing, body signals (drafter, amounts, codes),
// duplicate detection by content hash, and a directory watcher feeding
// incremental updates.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/askdocs/askdocs/internal/compose"
	aerr "github.com/askdocs/askdocs/internal/errors"
	"github.com/askdocs/askdocs/internal/search"
	"github.com/askdocs/askdocs/internal/store"
	"github.com/askdocs/askdocs/internal/validation"
)

// ExtractedDirName is the sibling directory of authoritative .txt bodies.
const ExtractedDirName = "extracted"

// codeScanLimit bounds how much body text the code extractor reads.
const codeScanLimit = 8000

var (
	// datedFilenameRegex parses "2024-10-24_채널에이_중계차_보수건.pdf".
	datedFilenameRegex = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})_(.+)$`)

	drafterLineRegex    = regexp.MustCompile(`(?m)기안자\s*[:：]?\s*([가-힣]{2,4})`)
	departmentLineRegex = regexp.MustCompile(`(?m)(?:부서|기안부서)\s*[:：]?\s*([가-힣A-Za-z0-9()]+)`)

	// claimedTotalRegex finds the declared total amount.
	claimedTotalRegex = regexp.MustCompile(`(?:합계|총액|총\s*계)\s*[:：]?\s*(?:₩|\\)?\s*([0-9][0-9,]*)\s*원?`)
	// itemAmountRegex finds per-line amounts for the sum check.
	itemAmountRegex = regexp.MustCompile(`([0-9][0-9,]{2,})\s*원`)
)

// IngesterConfig configures the ingester.
type IngesterConfig struct {
	// DocumentsRoot is the PDF tree; all stored paths resolve under it.
	DocumentsRoot string
	// ExtractedDir holds the .txt bodies. Default: DocumentsRoot/extracted.
	ExtractedDir string
	// MinTextLength marks shorter bodies as stale rather than indexable.
	MinTextLength int
}

// IngestResult reports what happened to one file.
type IngestResult struct {
	DocID    int64  `json:"doc_id"`
	Filename string `json:"filename"`
	// Updated is false when the content hash matched the stored row and
	// nothing needed re-indexing.
	Updated bool `json:"updated"`
	// DuplicateOf names the already-stored document carrying the same
	// content hash, when this file was skipped as a duplicate.
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// Ingester upserts extracted documents into the metadata store.
type Ingester struct {
	meta   store.MetadataStore
	cfg    IngesterConfig
	logger *slog.Logger
}

// NewIngester builds an ingester.
func NewIngester(meta store.MetadataStore, cfg IngesterConfig, logger *slog.Logger) (*Ingester, error) {
	if meta == nil {
		return nil, fmt.Errorf("ingester requires a metadata store")
	}
	if cfg.DocumentsRoot == "" {
		return nil, aerr.New(aerr.ErrCodeConfigInvalid, "documents root is required", nil)
	}
	if cfg.ExtractedDir == "" {
		cfg.ExtractedDir = filepath.Join(cfg.DocumentsRoot, ExtractedDirName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{meta: meta, cfg: cfg, logger: logger}, nil
}

// IngestFile ingests one document given either its PDF path or its
// extracted .txt path. The stored filename is always the PDF basename.
func (i *Ingester) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	resolved, err := validation.ResolveUnderRoot(i.cfg.DocumentsRoot, path)
	if err != nil {
		// The extracted dir may live outside the documents root.
		resolved, err = validation.ResolveUnderRoot(i.cfg.ExtractedDir, path)
		if err != nil {
			return nil, err
		}
	}

	base := filepath.Base(resolved)
	var pdfName, textPath string
	if strings.EqualFold(filepath.Ext(base), ".txt") {
		pdfName = strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf"
		textPath = resolved
	} else {
		pdfName = base
		textPath = filepath.Join(i.cfg.ExtractedDir,
			strings.TrimSuffix(base, filepath.Ext(base))+".txt")
	}

	body, err := os.ReadFile(textPath)
	if err != nil {
		return nil, aerr.New(aerr.ErrCodeStoreRead,
			fmt.Sprintf("failed to read extracted text for %s", pdfName), err)
	}
	text := cleanText(string(body))
	hash := contentHash(text)

	// Duplicate detection: same filename with an unchanged body is a no-op.
	existing, err := i.meta.GetByFilename(ctx, pdfName)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ContentHash == hash {
		i.logger.Debug("ingest_unchanged", slog.String("filename", pdfName))
		return &IngestResult{DocID: existing.ID, Filename: pdfName, Updated: false}, nil
	}

	// A new filename whose body already exists under another name is a
	// duplicate: record it against the original, never index it twice.
	if existing == nil {
		dup, err := i.meta.GetByContentHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			i.logger.Info("ingest_duplicate",
				slog.String("filename", pdfName),
				slog.String("duplicate_of", dup.Filename))
			return &IngestResult{
				DocID:       dup.ID,
				Filename:    pdfName,
				Updated:     false,
				DuplicateOf: dup.Filename,
			}, nil
		}
	}

	doc := i.buildDocument(pdfName, text, hash)
	if existing != nil {
		doc.ID = existing.ID
	}

	id, err := i.meta.Upsert(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := i.meta.ReplaceCodes(ctx, id, extractBodyCodes(id, text)); err != nil {
		return nil, err
	}

	i.logger.Info("document_ingested",
		slog.String("filename", pdfName),
		slog.Int64("doc_id", id),
		slog.Int("text_length", len(text)))
	return &IngestResult{DocID: id, Filename: pdfName, Updated: true}, nil
}

// IngestDir walks the extracted directory and ingests every .txt body.
func (i *Ingester) IngestDir(ctx context.Context) (ingested, unchanged, failed int, err error) {
	entries, err := os.ReadDir(i.cfg.ExtractedDir)
	if err != nil {
		return 0, 0, 0, aerr.New(aerr.ErrCodeStoreRead,
			fmt.Sprintf("failed to read extracted dir %s", i.cfg.ExtractedDir), err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}
		if ctx.Err() != nil {
			return ingested, unchanged, failed, ctx.Err()
		}

		result, ferr := i.IngestFile(ctx, filepath.Join(i.cfg.ExtractedDir, entry.Name()))
		switch {
		case ferr != nil:
			failed++
			i.logger.Warn("ingest_failed",
				slog.String("file", entry.Name()),
				slog.String("error", ferr.Error()))
		case result.Updated:
			ingested++
		default:
			unchanged++
		}
	}

	i.logger.Info("ingest_dir_done",
		slog.Int("ingested", ingested),
		slog.Int("unchanged", unchanged),
		slog.Int("failed", failed))
	return ingested, unchanged, failed, nil
}

// buildDocument derives every stored field from the filename and body.
func (i *Ingester) buildDocument(pdfName, text, hash string) *store.Document {
	doc := &store.Document{
		Filename:    pdfName,
		Path:        filepath.Join(i.cfg.DocumentsRoot, pdfName),
		Title:       titleFromFilename(pdfName),
		ContentHash: hash,
		TextPreview: text,
		SizeBytes:   int64(len(text)),
		Stale:       len(text) < i.cfg.MinTextLength,
		IndexedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if m := datedFilenameRegex.FindStringSubmatch(strings.TrimSuffix(pdfName, filepath.Ext(pdfName))); m != nil {
		doc.Date = m[1] + "-" + m[2] + "-" + m[3]
		doc.Year, _ = strconv.Atoi(m[1])
		doc.Month, _ = strconv.Atoi(m[2])
	}

	if m := drafterLineRegex.FindStringSubmatch(text); m != nil {
		doc.Drafter = m[1]
	}
	if m := departmentLineRegex.FindStringSubmatch(text); m != nil {
		doc.Department = m[1]
	}

	doc.DocType = compose.DetectDoctype("", pdfName, text)
	doc.ClaimedTotal, doc.SumMatch = amountSignals(text)
	return doc
}

// titleFromFilename strips the date prefix and extension and rejoins the
// separator-delimited words.
func titleFromFilename(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if m := datedFilenameRegex.FindStringSubmatch(name); m != nil {
		name = m[4]
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// amountSignals extracts the declared total and checks it against the
// sum of itemized line amounts. SumMatch stays unset without both
// signals.
func amountSignals(text string) (int64, store.TriState) {
	m := claimedTotalRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, store.TriStateUnknown
	}
	claimed, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil || claimed <= 0 {
		return 0, store.TriStateUnknown
	}

	var sum int64
	items := 0
	for _, im := range itemAmountRegex.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseInt(strings.ReplaceAll(im[1], ",", ""), 10, 64)
		if err != nil {
			continue
		}
		if v == claimed {
			continue
		}
		sum += v
		items++
	}
	if items == 0 {
		return claimed, store.TriStateUnknown
	}
	if sum == claimed {
		return claimed, store.TriStateTrue
	}
	return claimed, store.TriStateFalse
}

// extractBodyCodes runs the query-side code patterns over the body.
func extractBodyCodes(docID int64, text string) []*store.CodeOccurrence {
	if len(text) > codeScanLimit {
		text = text[:codeScanLimit]
	}
	raws := search.ExtractCodes(text)
	occs := make([]*store.CodeOccurrence, 0, len(raws))
	for _, raw := range raws {
		occs = append(occs, store.NewCodeOccurrence(docID, raw))
	}
	return occs
}

// cleanText normalizes line endings and trims trailing whitespace.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for idx, line := range lines {
		lines[idx] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// contentHash is the duplicate-detection key.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
