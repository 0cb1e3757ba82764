package share

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/blob"
	"github.com/dharsanguruparan/DropZone/internal/crypt"
	"github.com/dharsanguruparan/DropZone/internal/expiry"
	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/signing"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

const baseURL = "http://files.test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc   *Service
	store storage.Store
	blobs *blob.DiskStore
	clock *testClock
	tmp   string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, storage.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store storage.Store) *harness {
	t.Helper()
	blobs, err := blob.NewDiskStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	key := bytes.Repeat([]byte{7}, crypt.KeySize)
	engine, err := crypt.NewEngine(key)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := expiry.NewManager(store, blobs, zerolog.Nop(), expiry.WithClock(clock.Now))
	t.Cleanup(mgr.Close)
	return &harness{
		svc:   NewService(store, blobs, engine, signing.NewSigner(key), mgr, zerolog.Nop()),
		store: store,
		blobs: blobs,
		clock: clock,
		tmp:   t.TempDir(),
	}
}

// spool writes content to a temp file the way the HTTP layer does.
func (h *harness) spool(t *testing.T, name, mimeType string, content []byte) IncomingFile {
	t.Helper()
	f, err := os.CreateTemp(h.tmp, "upload-*")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	f.Close()
	return IncomingFile{Name: name, MimeType: mimeType, TempPath: f.Name()}
}

func (h *harness) upload(t *testing.T, password string, files ...IncomingFile) *UploadResult {
	t.Helper()
	res, err := h.svc.Upload(context.Background(), UploadRequest{Files: files, Password: password, BaseURL: baseURL})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return res
}

func readAll(t *testing.T, c *Content) []byte {
	t.Helper()
	defer c.Body.Close()
	b, err := io.ReadAll(c.Body)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	return b
}

func TestUploadSingleFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plain := []byte("hello, dropzone")
	in := h.spool(t, "hello.txt", "text/plain", plain)

	res := h.upload(t, "", in)
	if res.BatchID != "" || res.BatchURL != "" {
		t.Fatalf("single upload must not create a batch: %+v", res)
	}
	if len(res.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(res.Files))
	}
	got := res.Files[0]
	if got.ShareURL != baseURL+"/download/"+got.ShareID {
		t.Fatalf("unexpected share url %q", got.ShareURL)
	}
	if got.Size != int64(len(plain)) || got.OriginalName != "hello.txt" || got.MimeType != "text/plain" {
		t.Fatalf("unexpected result %+v", got)
	}
	if !got.ExpiresAt.Equal(h.clock.Now().Add(model.Lifetime)) {
		t.Fatalf("expiresAt = %s", got.ExpiresAt)
	}
	if _, err := os.Stat(in.TempPath); !os.IsNotExist(err) {
		t.Fatalf("temp file should be removed, stat err = %v", err)
	}

	rec, err := h.store.Find(ctx, got.ShareID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rec.IV) != crypt.IVSize || rec.Protected() || rec.InBatch() {
		t.Fatalf("unexpected record %+v", rec)
	}
	stored, err := os.ReadFile(filepath.Join(h.blobs.Dir(), rec.StorageName))
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if int64(len(stored)) != crypt.CiphertextSize(rec.Size) {
		t.Fatalf("blob size %d, want %d", len(stored), crypt.CiphertextSize(rec.Size))
	}
	if bytes.Contains(stored, plain) {
		t.Fatalf("blob holds plaintext")
	}
}

func TestUploadRejectsEmptyRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Upload(context.Background(), UploadRequest{BaseURL: baseURL})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUploadBatchSharesPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "secret",
		h.spool(t, "a.txt", "text/plain", []byte("first")),
		h.spool(t, "b.txt", "text/plain", []byte("second")),
		h.spool(t, "c.bin", "application/octet-stream", []byte{0, 1, 2}),
	)
	if res.BatchID == "" || res.BatchURL != baseURL+"/download/batch/"+res.BatchID {
		t.Fatalf("batch not reported: %+v", res)
	}
	members, err := h.store.FindByBatch(ctx, res.BatchID)
	if err != nil || len(members) != 3 {
		t.Fatalf("batch members: %d %v", len(members), err)
	}
	hash := members[0].PasswordHash
	if hash == "" || !signing.VerifyPassword(hash, "secret") {
		t.Fatalf("first member hash does not verify")
	}
	for _, m := range members {
		if m.PasswordHash != hash || m.BatchID != res.BatchID {
			t.Fatalf("member %s does not share the batch password", m.ShareID)
		}
	}
	for i, m := range members {
		if m.ShareID != res.Files[i].ShareID {
			t.Fatalf("batch order differs from upload order")
		}
	}
}

func TestUnlockAndPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "secret", h.spool(t, "photo.txt", "text/plain", []byte("private")))
	id := res.Files[0].ShareID

	if _, err := h.svc.Unlock(ctx, id, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	_, err := h.svc.Unlock(ctx, id, "wrong")
	if !errors.Is(err, ErrIncorrectPassword) || !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	landing, err := h.svc.Unlock(ctx, id, "secret")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if landing.Password != "secret" || len(landing.Files) != 1 || !landing.Files[0].Previewable {
		t.Fatalf("unexpected landing %+v", landing)
	}
	token := landing.Files[0].Token
	if token == "" {
		t.Fatalf("protected file needs a view token")
	}

	if _, err := h.svc.Preview(ctx, id, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("preview without token: %v", err)
	}
	if _, err := h.svc.Preview(ctx, id, strings.Repeat("0", len(token))); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("preview with forged token: %v", err)
	}
	c, err := h.svc.Preview(ctx, id, token)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got := readAll(t, c); string(got) != "private" {
		t.Fatalf("preview returned %q", got)
	}

	info, err := h.svc.Info(ctx, id)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.DownloadCount != 0 || !info.IsPasswordProtected {
		t.Fatalf("preview must not count downloads: %+v", info)
	}
}

func TestPreviewUnprotectedNeedsNoToken(t *testing.T) {
	h := newHarness(t)
	res := h.upload(t, "", h.spool(t, "open.txt", "text/plain", []byte("public")))
	c, err := h.svc.Preview(context.Background(), res.Files[0].ShareID, "")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got := readAll(t, c); string(got) != "public" {
		t.Fatalf("preview returned %q", got)
	}
}

func TestDownloadCountsAndDecrypts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plain := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	res := h.upload(t, "pw", h.spool(t, "big.bin", "application/octet-stream", plain))
	id := res.Files[0].ShareID

	if _, err := h.svc.Download(ctx, id, "nope"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	for want := int64(1); want <= 2; want++ {
		c, err := h.svc.Download(ctx, id, "pw")
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		if !bytes.Equal(readAll(t, c), plain) {
			t.Fatalf("download content mismatch")
		}
		if c.Record.DownloadCount != want {
			t.Fatalf("download count = %d, want %d", c.Record.DownloadCount, want)
		}
	}
}

func TestExpiredFileIsDeletedOnAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "", h.spool(t, "soon.txt", "text/plain", []byte("gone soon")))
	id := res.Files[0].ShareID
	rec, err := h.store.Find(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	h.clock.Advance(model.Lifetime)
	if _, err := h.svc.Info(ctx, id); err != nil {
		t.Fatalf("file must be servable exactly at expiry: %v", err)
	}

	h.clock.Advance(time.Millisecond)
	if _, err := h.svc.Preview(ctx, id, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := h.store.Find(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record should be deleted, got %v", err)
	}
	if _, err := h.blobs.Open(ctx, rec.StorageName); !errors.Is(err, blob.ErrNotExist) {
		t.Fatalf("blob should be deleted, got %v", err)
	}
	if _, err := h.svc.Download(ctx, id, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second access should be not found, got %v", err)
	}
}

func TestMissingBlobRemovesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "", h.spool(t, "lost.txt", "text/plain", []byte("lost")))
	id := res.Files[0].ShareID
	rec, _ := h.store.Find(ctx, id)
	if err := h.blobs.Delete(ctx, rec.StorageName); err != nil {
		t.Fatalf("delete blob: %v", err)
	}

	if _, err := h.svc.Preview(ctx, id, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.store.Find(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("orphaned record should be removed, got %v", err)
	}
}

func TestResolveRejectsMalformedIDs(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"", "../etc/passwd", "a b", strings.Repeat("x", 65)} {
		if _, err := h.svc.Resolve(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve(%q) = %v, want ErrNotFound", id, err)
		}
	}
}

func TestBatchLanding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "secret",
		h.spool(t, "one.txt", "text/plain", []byte("1")),
		h.spool(t, "two.pdf", "application/octet-stream", []byte("2")),
	)

	if _, err := h.svc.UnlockBatch(ctx, res.BatchID, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := h.svc.UnlockBatch(ctx, res.BatchID, "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	landing, err := h.svc.UnlockBatch(ctx, res.BatchID, "secret")
	if err != nil {
		t.Fatalf("unlock batch: %v", err)
	}
	if landing.BatchID != res.BatchID || len(landing.Files) != 2 || landing.TotalSize() != 2 {
		t.Fatalf("unexpected landing %+v", landing)
	}
	for _, f := range landing.Files {
		c, err := h.svc.Preview(ctx, f.Record.ShareID, f.Token)
		if err != nil {
			t.Fatalf("preview %s: %v", f.Record.OriginalName, err)
		}
		c.Body.Close()
	}

	if _, err := h.svc.UnlockBatch(ctx, "unknownbatch", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown batch: %v", err)
	}
	h.clock.Advance(model.Lifetime + time.Second)
	if _, err := h.svc.UnlockBatch(ctx, res.BatchID, "secret"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired batch: %v", err)
	}
	if n, _ := h.store.CountByBatch(ctx, res.BatchID); n != 0 {
		t.Fatalf("expired members should be deleted, %d left", n)
	}
}

func TestBatchOmitsMembersWithOtherPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "secret",
		h.spool(t, "a.txt", "text/plain", []byte("a")),
		h.spool(t, "b.txt", "text/plain", []byte("b")),
	)
	// Simulate a record edited out of band.
	odd := model.NewFileRecord(h.clock.Now())
	odd.ShareID = "oddmember001"
	odd.BatchID = res.BatchID
	odd.StorageName = "odd.enc"
	odd.PasswordHash = signing.LegacyHash("other")
	if err := h.store.Insert(ctx, odd); err != nil {
		t.Fatalf("insert: %v", err)
	}

	landing, err := h.svc.UnlockBatch(ctx, res.BatchID, "secret")
	if err != nil {
		t.Fatalf("unlock batch: %v", err)
	}
	if len(landing.Files) != 2 {
		t.Fatalf("expected the odd member to be omitted, got %d files", len(landing.Files))
	}
}

func TestDownloadBatchZip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "",
		h.spool(t, "notes.txt", "text/plain", []byte("first notes")),
		h.spool(t, "notes.txt", "text/plain", []byte("second notes")),
		h.spool(t, `..\..\evil.txt`, "text/plain", []byte("evil")),
	)

	archive, err := h.svc.DownloadBatch(ctx, res.BatchID, "")
	if err != nil {
		t.Fatalf("download batch: %v", err)
	}
	if archive.Filename() != "dropzone-"+res.BatchID+".zip" {
		t.Fatalf("unexpected filename %q", archive.Filename())
	}
	var buf bytes.Buffer
	if err := archive.WriteZip(ctx, &buf); err != nil {
		t.Fatalf("write zip: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	want := map[string]string{
		"notes.txt":     "first notes",
		"notes (2).txt": "second notes",
		"evil.txt":      "evil",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("zip has %d entries, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(body) {
			t.Fatalf("entry %q = %q", f.Name, body)
		}
	}

	for _, f := range res.Files {
		info, err := h.svc.Info(ctx, f.ShareID)
		if err != nil {
			t.Fatalf("info: %v", err)
		}
		if info.DownloadCount != 1 {
			t.Fatalf("member %s download count = %d", f.ShareID, info.DownloadCount)
		}
	}
}

func TestThumbnail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 640, 320))
	for x := 0; x < 640; x++ {
		img.Set(x, x%320, color.RGBA{R: 200, A: 255})
	}
	var src bytes.Buffer
	if err := png.Encode(&src, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	res := h.upload(t, "",
		h.spool(t, "wide.png", "image/png", src.Bytes()),
		h.spool(t, "doc.txt", "text/plain", []byte("text")),
	)

	out, err := h.svc.Thumbnail(ctx, res.Files[0].ShareID, "")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("thumbnail is not a jpeg: %v", err)
	}
	if cfg.Width != 160 || cfg.Height != 80 {
		t.Fatalf("thumbnail is %dx%d", cfg.Width, cfg.Height)
	}
	if _, err := h.svc.Thumbnail(ctx, res.Files[1].ShareID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for text, got %v", err)
	}
}

func TestIdenticalUploadsGetDistinctIVs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	content := []byte("same bytes twice")
	first := h.upload(t, "", h.spool(t, "same.txt", "text/plain", content)).Files[0]
	second := h.upload(t, "", h.spool(t, "same.txt", "text/plain", content)).Files[0]
	if first.ShareID == second.ShareID {
		t.Fatalf("identical uploads share id %s", first.ShareID)
	}
	a, err := h.store.Find(ctx, first.ShareID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	b, err := h.store.Find(ctx, second.ShareID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(a.IV) != 16 || bytes.Equal(a.IV, b.IV) {
		t.Fatalf("identical uploads must get fresh ivs: %x %x", a.IV, b.IV)
	}
	if a.StorageName == b.StorageName {
		t.Fatalf("identical uploads share blob %s", a.StorageName)
	}
}

// failingBlobs fails the nth Put.
type failingBlobs struct {
	blob.Store
	mu     sync.Mutex
	puts   int
	failOn int
}

func (f *failingBlobs) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	f.mu.Lock()
	f.puts++
	n := f.puts
	f.mu.Unlock()
	if n == f.failOn {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, name, r, size)
}

func TestUploadFailureMidBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.blobs = &failingBlobs{Store: h.blobs, failOn: 3}

	var files []IncomingFile
	for _, name := range []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt"} {
		files = append(files, h.spool(t, name, "text/plain", []byte("content of "+name)))
	}
	_, err := h.svc.Upload(ctx, UploadRequest{Files: files, BaseURL: baseURL})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	left, _ := os.ReadDir(h.tmp)
	if len(left) != 0 {
		t.Fatalf("temp files left behind: %d", len(left))
	}
	stored, err := h.store.ListActive(ctx, h.clock.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 2 || stored[0].OriginalName != "1.txt" || stored[1].OriginalName != "2.txt" {
		t.Fatalf("expected the two files stored before the failure, got %d", len(stored))
	}
}

func TestLongPasswordUpload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	password := strings.Repeat("0123456789", 8)
	res := h.upload(t, password, h.spool(t, "long.txt", "text/plain", []byte("guarded")))
	id := res.Files[0].ShareID

	if _, err := h.svc.Unlock(ctx, id, password[:72]); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("a 72 byte prefix must not unlock, got %v", err)
	}
	if _, err := h.svc.Unlock(ctx, id, password); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	c, err := h.svc.Download(ctx, id, password)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got := readAll(t, c); string(got) != "guarded" {
		t.Fatalf("download returned %q", got)
	}
}

func TestUnlockReportsTimeLeft(t *testing.T) {
	h := newHarness(t)
	res := h.upload(t, "", h.spool(t, "a.txt", "text/plain", []byte("a")))
	h.clock.Advance(90 * time.Minute)

	landing, err := h.svc.Unlock(context.Background(), res.Files[0].ShareID, "")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got, want := landing.Files[0].Remaining, model.Lifetime-90*time.Minute; got != want {
		t.Fatalf("remaining = %s, want %s", got, want)
	}
}

func TestDeliverAfterUnlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "pw",
		h.spool(t, "a.txt", "text/plain", []byte("alpha")),
		h.spool(t, "b.txt", "text/plain", []byte("bravo")),
	)
	landing, err := h.svc.UnlockBatch(ctx, res.BatchID, "pw")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}

	c, err := h.svc.Deliver(ctx, landing.Files[0].Record)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := readAll(t, c); string(got) != "alpha" || c.Record.DownloadCount != 1 {
		t.Fatalf("deliver returned %q with count %d", got, c.Record.DownloadCount)
	}

	archive, err := h.svc.DeliverBatch(ctx, landing)
	if err != nil {
		t.Fatalf("deliver batch: %v", err)
	}
	if archive.BatchID != res.BatchID || len(archive.Records) != 2 {
		t.Fatalf("unexpected archive %+v", archive)
	}
	var buf bytes.Buffer
	if err := archive.WriteZip(ctx, &buf); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	for i, want := range []int64{2, 1} {
		rec, err := h.store.Find(ctx, res.Files[i].ShareID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.DownloadCount != want {
			t.Fatalf("%s download count = %d, want %d", rec.OriginalName, rec.DownloadCount, want)
		}
	}

	// A member deleted after the unlock is dropped from the archive.
	if err := h.store.Delete(ctx, res.Files[1].ShareID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	archive, err = h.svc.DeliverBatch(ctx, landing)
	if err != nil || len(archive.Records) != 1 {
		t.Fatalf("deliver batch after delete: %v", err)
	}
}

// collidingStore reports a duplicate on the first insert.
type collidingStore struct {
	storage.Store
	mu       sync.Mutex
	failures int
}

func (c *collidingStore) Insert(ctx context.Context, rec *model.FileRecord) error {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return storage.ErrDuplicate
	}
	c.mu.Unlock()
	return c.Store.Insert(ctx, rec)
}

func TestUploadRetriesOnCollision(t *testing.T) {
	store := &collidingStore{Store: storage.NewMemoryStore(), failures: 2}
	h := newHarnessWithStore(t, store)
	res := h.upload(t, "", h.spool(t, "a.txt", "text/plain", []byte("a")))
	if _, err := store.Find(context.Background(), res.Files[0].ShareID); err != nil {
		t.Fatalf("record not stored after retries: %v", err)
	}
}

func TestUploadGivesUpAfterRepeatedCollisions(t *testing.T) {
	store := &collidingStore{Store: storage.NewMemoryStore(), failures: insertAttempts}
	h := newHarnessWithStore(t, store)
	in := h.spool(t, "a.txt", "text/plain", []byte("a"))
	const name = "fixed.enc"
	h.svc.blobKey = func() string { return name }

	_, err := h.svc.Upload(context.Background(), UploadRequest{Files: []IncomingFile{in}, BaseURL: baseURL})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, err := h.blobs.Open(context.Background(), name); !errors.Is(err, blob.ErrNotExist) {
		t.Fatalf("blob should be cleaned up after failed insert, got %v", err)
	}
	if _, err := os.Stat(in.TempPath); !os.IsNotExist(err) {
		t.Fatalf("temp file should be removed")
	}
}

func TestPreviewable(t *testing.T) {
	cases := map[string]bool{
		"image/png":                true,
		"video/mp4":                true,
		"audio/mpeg":               true,
		"application/pdf":          true,
		"text/plain":               true,
		"text/html":                false,
		"application/zip":          false,
		"application/octet-stream": false,
	}
	for mime, want := range cases {
		if got := Previewable(mime); got != want {
			t.Errorf("Previewable(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestUniqueName(t *testing.T) {
	seen := map[string]int{}
	got := []string{
		uniqueName(seen, "a.txt"),
		uniqueName(seen, "a.txt"),
		uniqueName(seen, "a (2).txt"),
		uniqueName(seen, "a.txt"),
		uniqueName(seen, entryName("/tmp/../")),
	}
	want := []string{"a.txt", "a (2).txt", "a (2) (2).txt", "a (3).txt", "file"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("name %d = %q, want %q", i, got[i], want[i])
		}
	}
}
