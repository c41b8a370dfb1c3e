// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package accuracy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// Debug artifact file names, formatted with the epoch number.
const (
	MergedFileFormat  = "accuracy_%d.json"
	MappingFileFormat = "mapping_%d.json"
)

type mergedRow struct {
	ImgName     string `dataframe:"img_name,string"`
	Prediction  int    `dataframe:"prediction,int"`
	Label       string `dataframe:"label,string"`
	MappedLabel int    `dataframe:"mapped_label,int"`
	Correct     bool   `dataframe:"correct,bool"`
}

type mappingRow struct {
	Prediction  int `dataframe:"prediction,int"`
	Label       int `dataframe:"label,int"`
	Size        int `dataframe:"size,int"`
	ClusterRows int `dataframe:"cluster_rows,int"`
}

// MergedDataFrame returns the matched samples as a dataframe with columns
// img_name, prediction, label (the ground-truth ids formatted as "[0,2]"), mapped_label and correct.
func MergedDataFrame(r *Result) dataframe.DataFrame {
	rows := make([]mergedRow, 0, len(r.Merged))
	for _, record := range r.Merged {
		rows = append(rows, mergedRow{
			ImgName:     record.ImgName,
			Prediction:  record.Prediction,
			Label:       formatLabels(record.Labels),
			MappedLabel: record.MappedLabel,
			Correct:     record.Correct,
		})
	}
	return dataframe.LoadStructs(rows)
}

// MappingDataFrame returns the cluster to label mapping as a dataframe with columns
// prediction, label, size and cluster_rows.
func MappingDataFrame(r *Result) dataframe.DataFrame {
	rows := make([]mappingRow, 0, len(r.Entries))
	for _, entry := range r.Entries {
		rows = append(rows, mappingRow(entry))
	}
	return dataframe.LoadStructs(rows)
}

func formatLabels(labels []int) string {
	parts := make([]string, len(labels))
	for ii, label := range labels {
		parts[ii] = strconv.Itoa(label)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// WriteDebugArtifacts writes the merged per-sample table and the mapping of the given
// epoch as JSON arrays of records into dir, which is created if needed.
//
// It returns the paths of the two files written.
func WriteDebugArtifacts(dir string, epoch int, r *Result) (mergedPath, mappingPath string, err error) {
	if err = os.MkdirAll(dir, 0755); err != nil {
		err = errors.Wrapf(err, "failed to create debug directory %q", dir)
		return
	}
	mergedPath = filepath.Join(dir, fmt.Sprintf(MergedFileFormat, epoch))
	records, err := mergedRecords(r)
	if err != nil {
		return
	}
	if err = writeRecords(mergedPath, records); err != nil {
		return
	}
	mappingPath = filepath.Join(dir, fmt.Sprintf(MappingFileFormat, epoch))
	err = writeDataFrame(mappingPath, MappingDataFrame(r))
	return
}

// mergedRecords returns the rows of MergedDataFrame with the label column as a list of ids.
func mergedRecords(r *Result) ([]map[string]any, error) {
	df := MergedDataFrame(r)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to build merged dataframe")
	}
	records := df.Maps()
	for ii, record := range records {
		labels := r.Merged[ii].Labels
		if labels == nil {
			labels = []int{}
		}
		record["label"] = labels
	}
	return records, nil
}

func writeRecords(filePath string, records []map[string]any) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = json.NewEncoder(f).Encode(records); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

func writeDataFrame(filePath string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return errors.Wrapf(df.Err, "failed to build dataframe for %q", filePath)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = df.WriteJSON(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}
