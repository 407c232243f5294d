package catalog

import (
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/record"
)

var (
	textExt     = []string{".txt"}
	imageExt    = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}
	audioExt    = []string{".mp3", ".wav", ".flac", ".m4a", ".ogg", ".aac"}
	conllExt    = []string{".conll", ".txt"}
	csvExt      = []string{".csv"}
	tsvExt      = []string{".tsv", ".txt"}
	jsonExt     = []string{".json"}
	jsonlExt    = []string{".jsonl", ".json"}
	fastTextExt = []string{".txt", ".ft"}
)

func textColumns(labels ...record.LabelColumn) record.Columns {
	return record.Columns{DataColumn: "text", LabelColumns: labels}
}

func fileColumns() record.Columns {
	return record.Columns{FileBased: true}
}

func col(name string, kind label.Kind) record.LabelColumn {
	return record.LabelColumn{Name: name, Kind: kind}
}

// rawTextImports are the unlabeled text formats every text project accepts.
func rawTextImports() []ImportFormat {
	return []ImportFormat{
		{Format: parser.FormatTextFile, Columns: textColumns(), Extensions: textExt},
		{Format: parser.FormatTextLine, Columns: textColumns(), Extensions: textExt},
	}
}

func init() {
	Register(Definition{
		Type: project.DocumentClassification,
		Imports: append(rawTextImports(),
			ImportFormat{Format: parser.FormatCSV, Columns: textColumns(col("label", label.KindCategory)), Extensions: csvExt},
			ImportFormat{Format: parser.FormatTSV, Columns: textColumns(col("label", label.KindCategory)), Extensions: tsvExt},
			ImportFormat{Format: parser.FormatJSON, Columns: textColumns(col("label", label.KindCategory)), Extensions: jsonExt},
			ImportFormat{Format: parser.FormatJSONL, Columns: textColumns(col("label", label.KindCategory)), Extensions: jsonlExt},
			ImportFormat{Format: parser.FormatFastText, Columns: textColumns(col("label", label.KindCategory)), Extensions: fastTextExt},
		),
		Exports: []ExportFormat{
			{Key: "csv", Writer: WriterCSV, DataColumn: "text", Columns: []Column{{"label", label.KindCategory, FormatJoin}}},
			{Key: "json", Writer: WriterJSON, DataColumn: "text", Columns: []Column{{"label", label.KindCategory, FormatList}}},
			{Key: "jsonl", Writer: WriterJSONL, DataColumn: "text", Columns: []Column{{"label", label.KindCategory, FormatList}}},
			{Key: "fasttext", Writer: WriterFastText, DataColumn: "text", Columns: []Column{{"label", label.KindCategory, FormatList}}},
		},
	})

	Register(Definition{
		Type: project.SequenceLabeling,
		Imports: append(rawTextImports(),
			ImportFormat{
				Format: parser.FormatJSONL,
				Columns: textColumns(
					col("label", label.KindSpan),
					col("entities", label.KindSpan),
					col("relations", label.KindRelation),
				),
				Extensions: jsonlExt,
			},
			ImportFormat{Format: parser.FormatCoNLL, Columns: textColumns(col("label", label.KindSpan)), Extensions: conllExt},
		),
		Exports: []ExportFormat{
			{Key: "jsonl", Writer: WriterJSONL, DataColumn: "text", Columns: []Column{{"label", label.KindSpan, FormatSpanTuples}}},
			{Key: "jsonl_relation", Writer: WriterJSONL, DataColumn: "text", Columns: []Column{
				{"entities", label.KindSpan, FormatEntities},
				{"relations", label.KindRelation, FormatRelations},
			}},
		},
	})

	Register(Definition{
		Type: project.Seq2seq,
		Imports: append(rawTextImports(),
			ImportFormat{Format: parser.FormatCSV, Columns: textColumns(col("label", label.KindText)), Extensions: csvExt},
			ImportFormat{Format: parser.FormatTSV, Columns: textColumns(col("label", label.KindText)), Extensions: tsvExt},
			ImportFormat{Format: parser.FormatJSON, Columns: textColumns(col("label", label.KindText)), Extensions: jsonExt},
			ImportFormat{Format: parser.FormatJSONL, Columns: textColumns(col("label", label.KindText)), Extensions: jsonlExt},
		),
		Exports: []ExportFormat{
			{Key: "csv", Writer: WriterCSV, DataColumn: "text", Columns: []Column{{"label", label.KindText, FormatJoin}}},
			{Key: "json", Writer: WriterJSON, DataColumn: "text", Columns: []Column{{"label", label.KindText, FormatList}}},
			{Key: "jsonl", Writer: WriterJSONL, DataColumn: "text", Columns: []Column{{"label", label.KindText, FormatList}}},
		},
	})

	Register(Definition{
		Type: project.IntentDetectionAndSlotFilling,
		Imports: append(rawTextImports(),
			ImportFormat{
				Format:     parser.FormatJSONL,
				Columns:    textColumns(col("cats", label.KindCategory), col("entities", label.KindSpan)),
				Extensions: jsonlExt,
			},
		),
		Exports: []ExportFormat{
			{Key: "jsonl", Writer: WriterJSONL, DataColumn: "text", Columns: []Column{
				{"cats", label.KindCategory, FormatList},
				{"entities", label.KindSpan, FormatSpanTuples},
			}},
		},
	})

	fileExports := func(kind label.Kind, f Formatter) []ExportFormat {
		return []ExportFormat{
			{Key: "jsonl", Writer: WriterJSONL, DataColumn: "filename", Columns: []Column{{"label", kind, f}}},
			{Key: "json", Writer: WriterJSON, DataColumn: "filename", Columns: []Column{{"label", kind, f}}},
		}
	}

	Register(Definition{
		Type:    project.ImageClassification,
		Imports: []ImportFormat{{Format: parser.FormatPlain, Columns: fileColumns(), Extensions: imageExt}},
		Exports: fileExports(label.KindCategory, FormatList),
	})
	Register(Definition{
		Type:    project.BoundingBox,
		Imports: []ImportFormat{{Format: parser.FormatPlain, Columns: fileColumns(), Extensions: imageExt}},
		Exports: fileExports(label.KindBoundingBox, FormatShapes),
	})
	Register(Definition{
		Type:    project.Segmentation,
		Imports: []ImportFormat{{Format: parser.FormatPlain, Columns: fileColumns(), Extensions: imageExt}},
		Exports: fileExports(label.KindSegmentation, FormatShapes),
	})
	Register(Definition{
		Type:    project.ImageCaptioning,
		Imports: []ImportFormat{{Format: parser.FormatPlain, Columns: fileColumns(), Extensions: imageExt}},
		Exports: fileExports(label.KindText, FormatList),
	})
	Register(Definition{
		Type:    project.Speech2text,
		Imports: []ImportFormat{{Format: parser.FormatPlain, Columns: fileColumns(), Extensions: audioExt}},
		Exports: fileExports(label.KindText, FormatList),
	})
}
