package dotenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jmcleod/tradedesk/storage"
	"github.com/jmcleod/tradedesk/storage/storetest"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotenvStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return New(filepath.Join(t.TempDir(), ".env"))
	})
}

func TestSavePreservesUnrelatedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INTEGRATE_API_TOKEN=tok\nINTEGRATE_API_SECRET=sec\n"), 0o600))

	s := New(path)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, storetest.Sample()))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", values["INTEGRATE_API_TOKEN"])
	assert.Equal(t, "sec", values["INTEGRATE_API_SECRET"])
	assert.Equal(t, storetest.Sample().APISessionKey, values[storage.KeyAPISessionKey])

	require.NoError(t, s.Clear(ctx))
	values, err = godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"INTEGRATE_API_TOKEN": "tok", "INTEGRATE_API_SECRET": "sec"}, values)
}

func TestSaveKeepsOtherLinesVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	original := "# broker login\n" +
		"BASE=/srv/desk\n" +
		"DERIVED=${BASE}/logs\n" +
		"NOTE=\"first line\nINTEGRATE_UID=not-a-key\"\n" +
		"export INTEGRATE_API_TOKEN=tok\n" +
		"INTEGRATE_UID=stale\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	s := New(path)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, storetest.Sample()))
	require.NoError(t, s.Save(ctx, storetest.Sample()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, "DERIVED=${BASE}/logs\n")
	assert.Contains(t, text, "# broker login\n")
	assert.Contains(t, text, "INTEGRATE_UID=not-a-key\"")
	assert.NotContains(t, text, "stale")
	assert.Equal(t, 1, strings.Count(text, storage.KeyAPISessionKey+"="))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Sample(), got)

	require.NoError(t, s.Clear(ctx))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(original, "INTEGRATE_UID=stale\n"), string(b))
}

func TestPartialFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INTEGRATE_UID=u1\nINTEGRATE_ACTID=a1\nINTEGRATE_API_SESSION_KEY=k\n"), 0o600))

	_, err := New(path).Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLeadingZerosSurvive(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	s := New(path)
	rec := storage.Record{UserID: "00123", AccountID: "007", APISessionKey: "k$ey\"1", TransportSessionKey: "0042"}
	require.NoError(t, s.Save(context.Background(), rec))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, New(path).Save(context.Background(), storetest.Sample()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestConcurrentReadersNeverSeePartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	s := New(path)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, storage.Record{UserID: "u0", AccountID: "a0", APISessionKey: "k0", TransportSessionKey: "w0"}))

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			rec, err := New(path).Load(ctx)
			if err != nil {
				select {
				case errs <- fmt.Errorf("load: %w", err):
				default:
				}
				return
			}
			// All four fields come from the same write.
			if rec.UserID[1:] != rec.AccountID[1:] || rec.UserID[1:] != rec.APISessionKey[1:] || rec.UserID[1:] != rec.TransportSessionKey[1:] {
				select {
				case errs <- errors.New("mixed record observed"):
				default:
				}
				return
			}
		}
	}()

	for i := 1; i < 50; i++ {
		n := fmt.Sprint(i)
		require.NoError(t, s.Save(ctx, storage.Record{UserID: "u" + n, AccountID: "a" + n, APISessionKey: "k" + n, TransportSessionKey: "w" + n}))
	}
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
}
