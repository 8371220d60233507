package handlers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/mira-ai/mira/internal/domain/models"
)

const (
	maxImageBytes = 5 * 1024 * 1024

	// Inference tier goes to the model; storage tier is what persists.
	inferenceMaxDim = 1200
	storageMaxDim   = 512

	inferenceJPEGQuality = 85
	storageJPEGQuality   = 70
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// imagePair carries both transcoded tiers of one uploaded image.
type imagePair struct {
	Inference models.ContentBlock
	Storage   models.ContentBlock
}

// transcodeImage validates and downscales raw image bytes into the inference
// and storage tiers. Both tiers are re-encoded as JPEG regardless of the
// source format.
func transcodeImage(data []byte, mediaType string) (*imagePair, error) {
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", maxImageBytes)
	}
	if mediaType != "" && !allowedImageTypes[mediaType] {
		return nil, fmt.Errorf("unsupported image type %q", mediaType)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	inference, err := encodeTier(img, inferenceMaxDim, inferenceJPEGQuality)
	if err != nil {
		return nil, err
	}
	storage, err := encodeTier(img, storageMaxDim, storageJPEGQuality)
	if err != nil {
		return nil, err
	}

	return &imagePair{
		Inference: models.ImageBlock("image/jpeg", inference),
		Storage:   models.ImageBlock("image/jpeg", storage),
	}, nil
}

// transcodeBase64Image handles the JSON request shape, where the image
// arrives base64-encoded in the body.
func transcodeBase64Image(b64, mediaType string) (*imagePair, error) {
	if base64.StdEncoding.DecodedLen(len(b64)) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", maxImageBytes)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data")
	}
	return transcodeImage(data, mediaType)
}

// documentBlock validates a base64 document and passes it through as a
// document block. Documents are not transcoded.
func documentBlock(b64, mediaType string) (models.ContentBlock, error) {
	if mediaType == "" {
		mediaType = "application/pdf"
	}
	if !allowedDocumentTypes[mediaType] {
		return models.ContentBlock{}, fmt.Errorf("unsupported document type %q", mediaType)
	}
	if base64.StdEncoding.DecodedLen(len(b64)) > maxDocumentBytes {
		return models.ContentBlock{}, fmt.Errorf("document exceeds %d byte limit", maxDocumentBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		return models.ContentBlock{}, fmt.Errorf("invalid base64 document data")
	}
	return models.ContentBlock{
		Type:   models.BlockTypeDocument,
		Source: &models.ImageSource{Type: "base64", MediaType: mediaType, Data: b64},
	}, nil
}

func encodeTier(img image.Image, maxDim, quality int) (string, error) {
	resized := resizeToFit(img, maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// resizeToFit scales img down so its longest edge is at most maxDim,
// preserving aspect ratio. Images already within bounds pass through.
func resizeToFit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = maxDim
		newH = h * maxDim / w
	} else {
		newH = maxDim
		newW = w * maxDim / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
