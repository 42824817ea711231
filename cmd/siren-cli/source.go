package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/siren-hq/siren/internal/cli"
	"github.com/siren-hq/siren/internal/filehandler"
	"github.com/siren-hq/siren/internal/pipeline"
	"github.com/siren-hq/siren/internal/s3util"
)

// stageVideo places a copy of src inside dir and describes it. The pipeline
// deletes the video it is given, so the caller's original is never handed over.
func stageVideo(ctx context.Context, src, dir string, getter s3util.ObjectGetter) (pipeline.VideoAsset, error) {
	if s3util.IsURI(src) {
		if getter == nil {
			return pipeline.VideoAsset{}, errors.New("no S3 client for " + src)
		}
		obj, err := s3util.DownloadToDir(ctx, getter, src, dir, filehandler.MaxVideoBytes)
		if err != nil {
			return pipeline.VideoAsset{}, err
		}
		mimeType := filehandler.ResolveVideoMIMEType(obj.ContentType, obj.Path)
		if mimeType == "" {
			os.Remove(obj.Path)
			return pipeline.VideoAsset{}, fmt.Errorf("not a supported video: %s", src)
		}
		if obj.SizeBytes == 0 {
			os.Remove(obj.Path)
			return pipeline.VideoAsset{}, fmt.Errorf("video is empty: %s", src)
		}
		return pipeline.VideoAsset{Path: obj.Path, SizeBytes: obj.SizeBytes, MIMEType: mimeType}, nil
	}
	return stageLocal(src, dir)
}

func stageLocal(src, dir string) (pipeline.VideoAsset, error) {
	ext := strings.ToLower(filepath.Ext(src))
	if !filehandler.IsVideo(ext) {
		return pipeline.VideoAsset{}, fmt.Errorf("not a supported video: %s", src)
	}
	src, info, err := cli.ResolveFile(src)
	if err != nil {
		return pipeline.VideoAsset{}, err
	}
	switch {
	case info.Size() == 0:
		return pipeline.VideoAsset{}, fmt.Errorf("video is empty: %s", src)
	case info.Size() > filehandler.MaxVideoBytes:
		return pipeline.VideoAsset{}, fmt.Errorf("video exceeds %d bytes: %s", filehandler.MaxVideoBytes, src)
	}

	in, err := os.Open(src)
	if err != nil {
		return pipeline.VideoAsset{}, err
	}
	defer in.Close()

	dst := filepath.Join(dir, "video"+ext)
	out, err := os.Create(dst)
	if err != nil {
		return pipeline.VideoAsset{}, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return pipeline.VideoAsset{}, fmt.Errorf("copy video: %w", err)
	}

	mimeType, _ := filehandler.GetMIMEType(ext)
	return pipeline.VideoAsset{Path: dst, SizeBytes: n, MIMEType: mimeType}, nil
}
