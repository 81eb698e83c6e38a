package ocr

import "strconv"

// PSMSingleBlock is the Tesseract page segmentation mode for one uniform
// block of text.
// See https://tesseract-ocr.github.io/tessdoc/ImproveQuality.html#page-segmentation-method for values.
const PSMSingleBlock = 6

// WithTesseractPSM sets the page segmentation mode (PSM) variable for Tesseract.
func WithTesseractPSM(mode int) InputOption {
	return func(in *Input) {
		if in.Metadata == nil {
			in.Metadata = make(map[string]string)
		}
		in.Metadata["tessedit_pageseg_mode"] = strconv.Itoa(mode)
	}
}
