package imagesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"testing"
)

type fakeRegistry struct {
	copies []string
	fail   map[string]error
}

func (f *fakeRegistry) Copy(ctx context.Context, src, dst string) error {
	if err, ok := f.fail[src]; ok {
		return err
	}
	f.copies = append(f.copies, src+" -> "+dst)
	return nil
}

type fakeBuilder struct {
	dockerfile string
	tag        string
	err        error
}

func (f *fakeBuilder) BuildAndPush(ctx context.Context, dockerfile, tag string) error {
	f.dockerfile = dockerfile
	f.tag = tag
	return f.err
}

type fakeStore struct {
	objects map[string]string
	puts    []string
}

func (f *fakeStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, length int64) error {
	bs, err := ioutil.ReadAll(body)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[bucket+"/"+key] = string(bs)
	f.puts = append(f.puts, bucket+"/"+key)
	return nil
}

type fakeFetcher struct {
	files map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, func(), error) {
	p, ok := f.files[url]
	if !ok {
		return "", nil, fmt.Errorf("unexpected fetch: %s", url)
	}
	return p, func() {}, nil
}

func TestExecute_DirectRetag(t *testing.T) {
	reg := &fakeRegistry{}
	d, err := New("registry.example.com", "homelab", Registry(reg))
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Execute(context.Background(), DirectRetag{Image: "minio/minio"}, "1.1.0"); err != nil {
		t.Fatal(err)
	}

	want := []string{"minio/minio:1.1.0 -> registry.example.com/homelab/minio:1.1.0"}
	if len(reg.copies) != 1 || reg.copies[0] != want[0] {
		t.Errorf("expected=%v, got=%v", want, reg.copies)
	}
}

func TestExecute_DirectRetag_MissingTagIsFatal(t *testing.T) {
	reg := &fakeRegistry{fail: map[string]error{
		"minio/minio:9.9.9": errors.New("MANIFEST_UNKNOWN: manifest unknown"),
	}}
	d, err := New("registry.example.com", "homelab", Registry(reg))
	if err != nil {
		t.Fatal(err)
	}

	err = d.Execute(context.Background(), DirectRetag{Image: "minio/minio"}, "9.9.9")
	if err == nil {
		t.Fatalf("expected error for missing source tag")
	}

	var se *StrategyError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StrategyError, got %T", err)
	}
	if se.Stage != StagePull {
		t.Errorf("expected stage=%s, got=%s", StagePull, se.Stage)
	}
}

func TestExecute_CustomBuild(t *testing.T) {
	b := &fakeBuilder{}
	d, err := New("registry.example.com", "homelab", Builder(b))
	if err != nil {
		t.Fatal(err)
	}

	dockerfile := "FROM lscr.io/linuxserver/jellyfin:{VERSION}\nRUN apt-get update\n"
	if err := d.Execute(context.Background(), CustomBuild{Dockerfile: dockerfile}, "10.8.13"); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(b.dockerfile, VersionPlaceholder) {
		t.Errorf("version placeholder not substituted: %q", b.dockerfile)
	}
	if !strings.Contains(b.dockerfile, "jellyfin:10.8.13") {
		t.Errorf("expected substituted FROM line, got: %q", b.dockerfile)
	}
	// Target image name derived from the FROM line.
	if b.tag != "registry.example.com/homelab/jellyfin:10.8.13" {
		t.Errorf("unexpected tag: %q", b.tag)
	}
}

func TestExecute_CustomBuild_ExplicitTarget(t *testing.T) {
	b := &fakeBuilder{}
	d, err := New("registry.example.com", "homelab", Builder(b))
	if err != nil {
		t.Fatal(err)
	}

	strategy := CustomBuild{
		Dockerfile:  "FROM node:{VERSION}\n",
		TargetImage: "nodejs-14",
	}
	if err := d.Execute(context.Background(), strategy, "14.21.3"); err != nil {
		t.Fatal(err)
	}

	if b.tag != "registry.example.com/homelab/nodejs-14:14.21.3" {
		t.Errorf("unexpected tag: %q", b.tag)
	}
}

func TestExecute_CustomBuild_FailureCarriesBuildStage(t *testing.T) {
	b := &fakeBuilder{err: errors.New("step 3/7 failed: exit status 1")}
	d, err := New("registry.example.com", "homelab", Builder(b))
	if err != nil {
		t.Fatal(err)
	}

	err = d.Execute(context.Background(), CustomBuild{Dockerfile: "FROM alpine:{VERSION}\n"}, "3.19")
	var se *StrategyError
	if !errors.As(err, &se) || se.Stage != StageBuild {
		t.Errorf("expected build-stage error, got: %v", err)
	}
}

func TestExecute_MultiImage_AllOrNothing(t *testing.T) {
	reg := &fakeRegistry{fail: map[string]error{
		"acme/api:2.0.0": errors.New("connection reset"),
	}}
	d, err := New("registry.example.com", "homelab", Registry(reg))
	if err != nil {
		t.Fatal(err)
	}

	images := []string{"acme/web", "acme/api", "acme/worker"}
	err = d.Execute(context.Background(), MultiImage{Images: images}, "2.0.0")
	if err == nil {
		t.Fatalf("expected failure when one of the images fails")
	}

	// The first image was already mirrored; that is acceptable collateral,
	// but the third must not have been attempted.
	if len(reg.copies) != 1 {
		t.Errorf("expected exactly one completed copy, got %v", reg.copies)
	}
}

func TestExecute_MultiImage_AllSucceed(t *testing.T) {
	reg := &fakeRegistry{}
	d, err := New("registry.example.com", "homelab", Registry(reg))
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Execute(context.Background(), MultiImage{Images: []string{"acme/web", "acme/api"}}, "2.0.0"); err != nil {
		t.Fatal(err)
	}
	if len(reg.copies) != 2 {
		t.Errorf("expected two copies, got %v", reg.copies)
	}
}

func TestArchiveArtifact_UploadsUnderVersionQualifiedKey(t *testing.T) {
	f, err := ioutil.TempFile("", "artifact")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("binary contents"); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	fetcher := &fakeFetcher{files: map[string]string{
		"https://dl.example.com/tool-1.1.0.tar.gz": f.Name(),
	}}

	d, err := New("registry.example.com", "homelab", Store(store), Fetcher(fetcher))
	if err != nil {
		t.Fatal(err)
	}

	spec := ArtifactSpec{
		URL:    "https://dl.example.com/tool-{{.Version}}.tar.gz",
		Bucket: "artifacts",
	}
	if err := d.ArchiveArtifact(context.Background(), spec, "1.1.0"); err != nil {
		t.Fatal(err)
	}

	if len(store.puts) != 1 || store.puts[0] != "artifacts/1.1.0/tool-1.1.0.tar.gz" {
		t.Errorf("unexpected puts: %v", store.puts)
	}
}

func TestArchiveArtifact_SkipsExistingObject(t *testing.T) {
	store := &fakeStore{objects: map[string]string{
		"artifacts/1.1.0/tool-1.1.0.tar.gz": "already there",
	}}
	fetcher := &fakeFetcher{} // any fetch would fail the test

	d, err := New("registry.example.com", "homelab", Store(store), Fetcher(fetcher))
	if err != nil {
		t.Fatal(err)
	}

	spec := ArtifactSpec{
		URL:    "https://dl.example.com/tool-{{.Version}}.tar.gz",
		Bucket: "artifacts",
	}
	if err := d.ArchiveArtifact(context.Background(), spec, "1.1.0"); err != nil {
		t.Fatal(err)
	}
	if len(store.puts) != 0 {
		t.Errorf("expected no uploads, got %v", store.puts)
	}
}
