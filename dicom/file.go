package dicom

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/google/uuid"

	"github.com/dicomrt/follow/types"
)

// WriteMode selects how a dataset is serialized on write.
type WriteMode int

const (
	// WriteReencode serializes the in-memory dataset in the object's
	// transfer syntax. Any modified attribute values are written out.
	WriteReencode WriteMode = iota

	// WriteVerbatimBytes writes the original dataset bytes untouched,
	// wrapped in freshly encoded File Meta Information. Required for
	// RTDOSE objects, whose payload must never be re-encoded.
	WriteVerbatimBytes
)

// Object is a DICOM object held in memory: its file meta, the parsed
// dataset, and the original dataset bytes for verbatim writes.
type Object struct {
	Meta    *FileMeta
	Dataset *Dataset

	// DatasetBytes holds the dataset exactly as received or read from
	// disk, before any inflation or parsing.
	DatasetBytes []byte
}

// ReadFile reads a Part 10 file from disk and parses its dataset. When
// withPixels is false, parsing stops before PixelData so large image files
// only cost their header.
func ReadFile(path string, withPixels bool) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	meta, err := ParseFileMeta(data)
	if err != nil {
		return nil, fmt.Errorf("parsing file meta of %s: %w", path, err)
	}

	datasetBytes := data[meta.DatasetOffset:]
	return newObject(meta, datasetBytes, withPixels)
}

// FromDataset builds an Object from bare dataset bytes as received over
// a C-STORE, synthesizing file meta from the association facts.
func FromDataset(datasetBytes []byte, transferSyntaxUID, sopClassUID, sopInstanceUID, sourceAETitle string) (*Object, error) {
	if transferSyntaxUID == "" {
		transferSyntaxUID = types.ImplicitVRLittleEndian
	}
	meta := &FileMeta{
		MediaStorageSOPClassUID:      sopClassUID,
		MediaStorageSOPInstanceUID:   sopInstanceUID,
		TransferSyntaxUID:            transferSyntaxUID,
		SourceApplicationEntityTitle: sourceAETitle,
	}
	return newObject(meta, datasetBytes, true)
}

func newObject(meta *FileMeta, datasetBytes []byte, withPixels bool) (*Object, error) {
	parseBytes := datasetBytes
	if meta.TransferSyntaxUID == types.DeflatedExplicitVRLittleEndian {
		inflated, err := inflate(datasetBytes)
		if err != nil {
			return nil, fmt.Errorf("inflating deflated dataset: %w", err)
		}
		parseBytes = inflated
	}

	parseTS := meta.TransferSyntaxUID
	var dataset *Dataset
	var err error
	if withPixels {
		dataset, err = ParseDatasetWithTransferSyntax(parseBytes, parseTS)
	} else {
		dataset, err = ParseDatasetUntil(parseBytes, parseTS, TagPixelData)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}

	return &Object{
		Meta:         meta,
		Dataset:      dataset,
		DatasetBytes: datasetBytes,
	}, nil
}

// WriteFile serializes the object as a Part 10 file at path.
func WriteFile(path string, obj *Object, mode WriteMode) error {
	data, err := Encode(obj, mode)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Encode serializes the object as Part 10 bytes.
func Encode(obj *Object, mode WriteMode) ([]byte, error) {
	if obj.Meta == nil {
		return nil, fmt.Errorf("object has no file meta")
	}

	if mode == WriteVerbatimBytes {
		if obj.DatasetBytes == nil {
			return nil, fmt.Errorf("verbatim write requested but original dataset bytes are gone")
		}
		return BuildPart10(obj.Meta, obj.DatasetBytes), nil
	}

	datasetBytes, err := EncodeDatasetWithTransferSyntax(obj.Dataset, obj.Meta.TransferSyntaxUID)
	if err != nil {
		return nil, fmt.Errorf("encoding dataset: %w", err)
	}
	if obj.Meta.TransferSyntaxUID == types.DeflatedExplicitVRLittleEndian {
		datasetBytes, err = deflate(datasetBytes)
		if err != nil {
			return nil, fmt.Errorf("deflating dataset: %w", err)
		}
	}
	return BuildPart10(obj.Meta, datasetBytes), nil
}

// EnsureUIDs guarantees the dataset carries a SOPInstanceUID and keeps the
// file meta in sync with the dataset.
//
// If the dataset is missing its SOPInstanceUID, the value is taken from the
// file meta when present, otherwise a fresh UID is minted. The returned bool
// reports whether the dataset was modified, which means the object must be
// written with WriteReencode for the change to take effect.
func EnsureUIDs(obj *Object) (bool, error) {
	if obj.Dataset == nil {
		return false, fmt.Errorf("object has no dataset")
	}

	modified := false

	sopInstance := obj.Dataset.GetString(TagSOPInstanceUID)
	if sopInstance == "" {
		sopInstance = obj.Meta.MediaStorageSOPInstanceUID
		if sopInstance == "" {
			sopInstance = MintUID()
		}
		obj.Dataset.SetString(TagSOPInstanceUID, sopInstance)
		modified = true
	}
	obj.Meta.MediaStorageSOPInstanceUID = sopInstance

	if sopClass := obj.Dataset.GetString(TagSOPClassUID); sopClass != "" {
		obj.Meta.MediaStorageSOPClassUID = sopClass
	}

	return modified, nil
}

// MintUID generates a new UID in the 2.25 root, which holds UUID-derived
// UIDs encoded as the decimal value of the 128-bit UUID.
func MintUID() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	return "2.25." + n.String()
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
