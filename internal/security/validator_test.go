package security

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mailvault/internal/message/domain"
	"mailvault/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	result *ScanResult
	err    error
	calls  int
}

func (f *fakeScanner) Scan(_ context.Context, _ []byte) (*ScanResult, error) {
	f.calls++
	return f.result, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedMimeTypes:  []string{"application/pdf", "text/plain", "image/png"},
		MaxAttachmentSize: 1024,
		ScanFailurePolicy: config.ScanFailureAccept,
	}
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF")

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(testConfig(), nil)

	verdict := v.Validate(context.Background(), pdfBytes, "application/pdf", "report.pdf")
	assert.True(t, verdict.Accepted)
	assert.Equal(t, domain.VerdictUnknown, verdict.Verdict)
	assert.Equal(t, "application/pdf", verdict.DetectedMimeType)
	assert.False(t, verdict.MimeMismatch)
	assert.Len(t, verdict.ContentHash, 64)
}

func TestValidateRecordsMimeMismatch(t *testing.T) {
	v := NewValidator(testConfig(), nil)

	// Declared as PDF, sniffs as plain text: accepted, mismatch recorded.
	verdict := v.Validate(context.Background(), []byte("just some notes"), "application/pdf", "notes.txt")
	assert.True(t, verdict.Accepted)
	assert.True(t, verdict.MimeMismatch)
	assert.Equal(t, "application/pdf", verdict.DeclaredMimeType)
	assert.Contains(t, verdict.DetectedMimeType, "text/plain")

	undeclared := v.Validate(context.Background(), []byte("just some notes"), "", "notes.txt")
	assert.False(t, undeclared.MimeMismatch, "no declared type means nothing to disagree with")
}

func TestValidateRejectsOversized(t *testing.T) {
	v := NewValidator(testConfig(), nil)

	big := append([]byte{}, pdfBytes...)
	big = append(big, make([]byte, 2048)...)
	verdict := v.Validate(context.Background(), big, "application/pdf", "big.pdf")
	assert.False(t, verdict.Accepted)
	assert.Equal(t, domain.VerdictUnsafe, verdict.Verdict)
	assert.Contains(t, verdict.Reason, "exceeds limit")
}

func TestValidateRejectsDisallowedMime(t *testing.T) {
	v := NewValidator(testConfig(), nil)

	// zip magic bytes, not on the allowlist
	verdict := v.Validate(context.Background(), []byte("PK\x03\x04zipzipzip"), "application/zip", "archive.zip")
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, "not in allowlist")
	assert.NotEmpty(t, verdict.ContentHash, "hash recorded even on rejection")
}

func TestValidateRejectsDangerousExtension(t *testing.T) {
	v := NewValidator(testConfig(), nil)

	// plain text content sneaks past the mime allowlist, extension does not
	verdict := v.Validate(context.Background(), []byte("echo hello"), "text/plain", "setup.bat")
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, ".bat")
}

func TestValidateScanFlagged(t *testing.T) {
	scanner := &fakeScanner{result: &ScanResult{Clean: false, Detail: "Eicar-Test-Signature"}}
	v := NewValidator(testConfig(), scanner)

	verdict := v.Validate(context.Background(), pdfBytes, "application/pdf", "report.pdf")
	assert.False(t, verdict.Accepted)
	assert.Equal(t, domain.VerdictUnsafe, verdict.Verdict)
	assert.Equal(t, "Eicar-Test-Signature", verdict.ScanDetail)
	assert.Equal(t, 1, scanner.calls)
}

func TestValidateScanClean(t *testing.T) {
	scanner := &fakeScanner{result: &ScanResult{Clean: true}}
	v := NewValidator(testConfig(), scanner)

	verdict := v.Validate(context.Background(), pdfBytes, "application/pdf", "report.pdf")
	assert.True(t, verdict.Accepted)
	assert.Equal(t, domain.VerdictSafe, verdict.Verdict)
}

func TestValidateScanUnavailable(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("connection refused")}

	t.Run("accept policy", func(t *testing.T) {
		v := NewValidator(testConfig(), scanner)
		verdict := v.Validate(context.Background(), pdfBytes, "application/pdf", "report.pdf")
		assert.True(t, verdict.Accepted)
		assert.Equal(t, domain.VerdictUnknown, verdict.Verdict)
		assert.Contains(t, verdict.ScanDetail, "scan unavailable")
	})

	t.Run("reject policy", func(t *testing.T) {
		cfg := testConfig()
		cfg.ScanFailurePolicy = config.ScanFailureReject
		v := NewValidator(cfg, scanner)
		verdict := v.Validate(context.Background(), pdfBytes, "application/pdf", "report.pdf")
		assert.False(t, verdict.Accepted)
		assert.Equal(t, "content scan unavailable", verdict.Reason)
	})
}

func TestRejectedBeforeScan(t *testing.T) {
	scanner := &fakeScanner{result: &ScanResult{Clean: true}}
	v := NewValidator(testConfig(), scanner)

	v.Validate(context.Background(), []byte("PK\x03\x04zip"), "application/zip", "a.zip")
	assert.Equal(t, 0, scanner.calls, "scan must not run for already rejected content")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "report.pdf", SanitizeFilename("C:\\Users\\x\\report.pdf"))
	assert.Equal(t, "attachment", SanitizeFilename(""))
	assert.Equal(t, "attachment", SanitizeFilename(".."))
	assert.Equal(t, "notes.txt", SanitizeFilename("no\x00tes.txt"))
	require.LessOrEqual(t, len(SanitizeFilename(strings.Repeat("a", 300))), 255)
}
