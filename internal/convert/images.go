package convert

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"

	"docify/internal/domain"
)

const jpegQuality = 90

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func encodeImage(out string, encode func(f *os.File) error) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return encode(f)
}

// imageToJPEG flattens transparency onto white before encoding.
func imageToJPEG(_ context.Context, in, out string, _ domain.Options) error {
	img, err := decodeImage(in)
	if err != nil {
		return err
	}
	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)
	return encodeImage(out, func(f *os.File) error {
		return jpeg.Encode(f, flat, &jpeg.Options{Quality: jpegQuality})
	})
}

func imageToPNG(_ context.Context, in, out string, _ domain.Options) error {
	img, err := decodeImage(in)
	if err != nil {
		return err
	}
	return encodeImage(out, func(f *os.File) error {
		return png.Encode(f, img)
	})
}

// magick converts through ImageMagick, which infers both formats from the
// file extensions.
func magick(tools Toolchain) convertFunc {
	return func(ctx context.Context, in, out string, _ domain.Options) error {
		if err := run(ctx, tools.ImageMagick, in, out); err != nil {
			return fmt.Errorf("imagemagick: %w", err)
		}
		return nil
	}
}
