package model

// Image is a normalized, PNG encoded avatar ready for presentation.
type Image struct {
	PNG      []byte
	Width    int
	Height   int
	Channels int
}

func (img Image) Size() int {
	return len(img.PNG)
}

func (img Image) Empty() bool {
	return len(img.PNG) == 0
}
