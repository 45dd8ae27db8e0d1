package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	blobcore "taskledger/internal/blob/core"
	"taskledger/pkg/domain"
)

const (
	auditArchivePrefix = "audit/"
	auditArchiveType   = "application/x-ndjson"
)

// ArchiveResult describes one exported audit segment.
type ArchiveResult struct {
	Key      string `json:"key" yaml:"key"`
	Records  int    `json:"records" yaml:"records"`
	FirstSeq int64  `json:"first_seq" yaml:"first_seq"`
	LastSeq  int64  `json:"last_seq" yaml:"last_seq"`
}

// AuditArchiver copies the audit log to a blob store as JSON-lines segments.
// Segment keys carry their sequence range, so the highest archived sequence
// is recovered from a listing and exports are incremental.
type AuditArchiver struct {
	log    *AuditLog
	store  blobcore.Store
	logger Logger
}

// NewAuditArchiver returns an archiver writing log segments to store.
func NewAuditArchiver(log *AuditLog, store blobcore.Store, logger Logger) *AuditArchiver {
	if logger == nil {
		logger = noopLogger{}
	}
	return &AuditArchiver{log: log, store: store, logger: logger}
}

func segmentKey(first, last int64) string {
	return fmt.Sprintf("%s%012d-%012d.jsonl", auditArchivePrefix, first, last)
}

func parseSegmentKey(key string) (first, last int64, ok bool) {
	name, found := strings.CutPrefix(key, auditArchivePrefix)
	if !found {
		return 0, 0, false
	}
	name, found = strings.CutSuffix(name, ".jsonl")
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(name, "-")
	if !found {
		return 0, 0, false
	}
	first, err1 := strconv.ParseInt(a, 10, 64)
	last, err2 := strconv.ParseInt(b, 10, 64)
	if err1 != nil || err2 != nil || first > last {
		return 0, 0, false
	}
	return first, last, true
}

// Segments lists the archived segment keys in sequence order.
func (a *AuditArchiver) Segments(ctx context.Context) ([]blobcore.Info, error) {
	infos, err := a.store.List(ctx, auditArchivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list audit archive: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if _, _, ok := parseSegmentKey(info.Key); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// Checkpoint returns the highest sequence number already archived.
func (a *AuditArchiver) Checkpoint(ctx context.Context) (int64, error) {
	segments, err := a.Segments(ctx)
	if err != nil {
		return 0, err
	}
	var checkpoint int64
	for _, s := range segments {
		if _, last, _ := parseSegmentKey(s.Key); last > checkpoint {
			checkpoint = last
		}
	}
	return checkpoint, nil
}

// Export writes every record after the checkpoint as a new segment. It
// returns a zero result when there is nothing new to archive.
func (a *AuditArchiver) Export(ctx context.Context) (ArchiveResult, error) {
	checkpoint, err := a.Checkpoint(ctx)
	if err != nil {
		return ArchiveResult{}, err
	}
	records := a.log.Since(checkpoint)
	if len(records) == 0 {
		return ArchiveResult{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return ArchiveResult{}, fmt.Errorf("encode audit record %d: %w", r.Seq, err)
		}
	}
	res := ArchiveResult{
		Records:  len(records),
		FirstSeq: records[0].Seq,
		LastSeq:  records[len(records)-1].Seq,
	}
	res.Key = segmentKey(res.FirstSeq, res.LastSeq)
	_, err = a.store.Put(ctx, res.Key, &buf, blobcore.PutOptions{
		ContentType: auditArchiveType,
		Metadata: map[string]string{
			"first_seq": strconv.FormatInt(res.FirstSeq, 10),
			"last_seq":  strconv.FormatInt(res.LastSeq, 10),
		},
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("write %s: %w", res.Key, err)
	}
	a.logger.Info("audit segment archived", "key", res.Key, "records", res.Records, "driver", string(a.store.Driver()))
	return res, nil
}

// Read decodes one archived segment.
func (a *AuditArchiver) Read(ctx context.Context, key string) ([]domain.AuditRecord, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var out []domain.AuditRecord
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var r domain.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return out, nil
}
