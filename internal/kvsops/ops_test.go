package kvsops

import (
	"bytes"
	"testing"

	"github.com/kvsd/kvsd/internal/jobfile"
	"github.com/kvsd/kvsd/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) Notify(key, value string) {
	f.notified = append(f.notified, key+"="+value)
}

type fakeBackupper struct {
	paths []string
	err   error
}

func (f *fakeBackupper) Spawn(destPath string) error {
	f.paths = append(f.paths, destPath)
	return f.err
}

func newEngine() (*Engine, *fakeNotifier, *fakeBackupper) {
	n := &fakeNotifier{}
	b := &fakeBackupper{}
	return &Engine{Store: store.New(), Notifier: n, Backup: b, Logger: zerolog.Nop()}, n, b
}

func TestWriteThenReadFormatsExactBytes(t *testing.T) {
	e, notifier, _ := newEngine()
	var out bytes.Buffer

	require.NoError(t, e.Execute(jobfile.Command{
		Kind:  jobfile.KindWrite,
		Pairs: []jobfile.Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
	}, &out, nil))
	require.ElementsMatch(t, []string{"a=1", "b=2"}, notifier.notified)

	out.Reset()
	require.NoError(t, e.Execute(jobfile.Command{
		Kind: jobfile.KindRead,
		Keys: []string{"a", "b"},
	}, &out, nil))
	require.Equal(t, "[(a,1)(b,2)]\n", out.String())
}

func TestReadMissingKeyFormat(t *testing.T) {
	e, _, _ := newEngine()
	var out bytes.Buffer
	require.NoError(t, e.Execute(jobfile.Command{Kind: jobfile.KindRead, Keys: []string{"z"}}, &out, nil))
	require.Equal(t, "[(z,KVSERROR)]\n", out.String())
}

func TestDeleteMissingKeyFormat(t *testing.T) {
	e, _, _ := newEngine()
	var out bytes.Buffer
	require.NoError(t, e.Execute(jobfile.Command{Kind: jobfile.KindDelete, Keys: []string{"z"}}, &out, nil))
	require.Equal(t, "[(z,KVSMISSING)]\n", out.String())
}

func TestDeleteFullyPresentBatchEmitsNothing(t *testing.T) {
	e, _, _ := newEngine()
	var out bytes.Buffer
	e.Execute(jobfile.Command{Kind: jobfile.KindWrite, Pairs: []jobfile.Pair{{Key: "a", Value: "1"}}}, &out, nil)
	out.Reset()

	require.NoError(t, e.Execute(jobfile.Command{Kind: jobfile.KindDelete, Keys: []string{"a"}}, &out, nil))
	require.Empty(t, out.String())
}

func TestShowEmitsSpaceAfterComma(t *testing.T) {
	e, _, _ := newEngine()
	var out bytes.Buffer
	e.Execute(jobfile.Command{Kind: jobfile.KindWrite, Pairs: []jobfile.Pair{{Key: "a", Value: "1"}}}, &out, nil)
	out.Reset()

	require.NoError(t, e.Execute(jobfile.Command{Kind: jobfile.KindShow}, &out, nil))
	require.Equal(t, "(a, 1)\n", out.String())
}

func TestWaitEmitsWaitingThenReturns(t *testing.T) {
	e, _, _ := newEngine()
	var out bytes.Buffer
	require.NoError(t, e.Execute(jobfile.Command{Kind: jobfile.KindWait, Ms: 1}, &out, nil))
	require.Equal(t, "Waiting...\n", out.String())
}

func TestBackupDelegatesToBackupper(t *testing.T) {
	e, _, backupper := newEngine()
	var out bytes.Buffer
	require.NoError(t, e.Execute(jobfile.Command{Kind: jobfile.KindBackup}, &out, func() string { return "job-1.bck" }))
	require.Equal(t, []string{"job-1.bck"}, backupper.paths)
}

func TestWriteFailureReportsKeypair(t *testing.T) {
	e, _, _ := newEngine()
	long := make([]byte, store.MaxStringSize+1)
	for i := range long {
		long[i] = 'x'
	}
	var out bytes.Buffer
	require.NoError(t, e.Execute(jobfile.Command{
		Kind:  jobfile.KindWrite,
		Pairs: []jobfile.Pair{{Key: string(long), Value: "1"}},
	}, &out, nil))
	require.Contains(t, out.String(), "Failed to write keypair")
}
