package gocvcam

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Dark red in OpenCV HSV wraps around hue 0, so it takes two ranges.
var redRanges = [][2]gocv.Scalar{
	{gocv.NewScalar(0, 50, 50, 0), gocv.NewScalar(10, 255, 255, 0)},
	{gocv.NewScalar(170, 50, 50, 0), gocv.NewScalar(180, 255, 255, 0)},
}

// RedTextMask isolates dark red lettering for OCR. The result is a
// single-channel image with the lettering black on white.
func RedTextMask(img image.Image) (image.Image, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("gocvcam: convert crop: %w", err)
	}
	defer src.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	part := gocv.NewMat()
	defer part.Close()

	for i, r := range redRanges {
		if i == 0 {
			gocv.InRangeWithScalar(hsv, r[0], r[1], &mask)
			continue
		}
		gocv.InRangeWithScalar(hsv, r[0], r[1], &part)
		gocv.BitwiseOr(mask, part, &mask)
	}
	gocv.BitwiseNot(mask, &mask)

	out, err := mask.ToImage()
	if err != nil {
		return nil, fmt.Errorf("gocvcam: decode mask: %w", err)
	}
	return out, nil
}
