package decoder

import (
	"image"
	"image/color"
)

// packRows writes img into dst as tightly packed rows of nc channels.
func packRows(dst []byte, img image.Image, nc int) {
	b := img.Bounds()
	w := b.Dx()
	switch m := img.(type) {
	case *image.YCbCr:
		if nc != 3 {
			break
		}
		for y := 0; y < b.Dy(); y++ {
			o := y * w * 3
			for x := 0; x < w; x++ {
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				dst[o], dst[o+1], dst[o+2] = color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
				o += 3
			}
		}
		return
	case *image.Gray:
		if nc != 3 {
			break
		}
		for y := 0; y < b.Dy(); y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+w]
			o := y * w * 3
			for _, g := range row {
				dst[o], dst[o+1], dst[o+2] = g, g, g
				o += 3
			}
		}
		return
	case *image.RGBA:
		if nc != 3 {
			break
		}
		for y := 0; y < b.Dy(); y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+4*w]
			o := y * w * 3
			for i := 0; i < len(row); i += 4 {
				dst[o], dst[o+1], dst[o+2] = row[i], row[i+1], row[i+2]
				o += 3
			}
		}
		return
	case *image.NRGBA:
		if nc != 4 {
			break
		}
		for y := 0; y < b.Dy(); y++ {
			copy(dst[y*w*4:(y+1)*w*4], m.Pix[y*m.Stride:y*m.Stride+4*w])
		}
		return
	case *image.NYCbCrA:
		if nc != 4 {
			break
		}
		for y := 0; y < b.Dy(); y++ {
			o := y * w * 4
			for x := 0; x < w; x++ {
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				dst[o], dst[o+1], dst[o+2] = color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
				dst[o+3] = m.A[m.AOffset(b.Min.X+x, b.Min.Y+y)]
				o += 4
			}
		}
		return
	case *image.CMYK:
		if nc != 4 {
			break
		}
		for y := 0; y < b.Dy(); y++ {
			copy(dst[y*w*4:(y+1)*w*4], m.Pix[y*m.Stride:y*m.Stride+4*w])
		}
		return
	}

	// Generic path.
	cmyk := img.ColorModel() == color.CMYKModel
	o := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch {
			case nc == 4 && cmyk:
				c := color.CMYKModel.Convert(img.At(x, y)).(color.CMYK)
				dst[o], dst[o+1], dst[o+2], dst[o+3] = c.C, c.M, c.Y, c.K
			case nc == 4:
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				dst[o], dst[o+1], dst[o+2], dst[o+3] = c.R, c.G, c.B, c.A
			default:
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				dst[o], dst[o+1], dst[o+2] = c.R, c.G, c.B
			}
			o += nc
		}
	}
}
