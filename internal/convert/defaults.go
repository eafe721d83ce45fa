package convert

import (
	"context"

	"docify/internal/providers/genai"
)

// Config wires the registry to its collaborators.
type Config struct {
	Tools         Toolchain
	AI            TextGenerator
	RejectUnknown bool
	MaxBatchSize  int
}

type unconfiguredAI struct{}

func (unconfiguredAI) GenerateText(context.Context, genai.DocumentRequest) (string, error) {
	return "", genai.ErrMissingAPIKey
}

// New builds the registry with every dedicated handler and universal
// converter.
func New(cfg Config) *Registry {
	ai := cfg.AI
	if ai == nil {
		ai = unconfiguredAI{}
	}
	tools := cfg.Tools

	g := newGenericHandler()
	g.add("data", "csv-to-json", tableToJSON)
	g.add("data", "excel-to-json", tableToJSON)
	g.add("data", "excel-to-csv", tableOrJSONToCSV)
	g.add("data", "json-to-csv", tableOrJSONToCSV)
	g.add("data", "csv-to-excel", tableOrJSONToWorkbook)
	g.add("data", "json-to-excel", tableOrJSONToWorkbook)
	g.add("data", "yaml-to-json", yamlToJSON)
	g.add("data", "json-to-yaml", jsonToYAML)
	g.add("data", "json-to-xml", jsonToXML)
	g.add("data", "xml-to-json", xmlToJSON)
	g.add("image", "png-to-jpg", imageToJPEG)
	g.add("image", "jpg-to-png", imageToPNG)
	g.add("image", "png-to-webp", magick(tools))
	g.add("image", "jpg-to-webp", magick(tools))
	g.add("image", "svg-to-png", magick(tools))
	g.add("markup", "html-to-markdown", htmlToMarkdown)
	g.add("markup", "markdown-to-html", markdownToHTML)
	g.add("document", "word-to-text", wordToText)
	g.add("document", "word-to-markdown", wordToMarkdown)
	for _, id := range []ToolID{
		ToolInvoiceToData, ToolReceiptToCSV, ToolHandwritingToText, ToolOCRPDF,
		ToolTranslateDoc, ToolUnstructuredToJSON, ToolSmartConvert,
	} {
		g.converters[id] = aiConverter(ai, id)
	}

	r := newRegistry(g, cfg.RejectUnknown, cfg.MaxBatchSize)
	single := Exactly(1)

	r.Register("pdf", ToolMerge, AtLeast(2), mergeHandler{}, ToolCombine)
	r.Register("pdf", ToolSplit, single, splitHandler{}, ToolPartition)
	r.Register("pdf", ToolCompress, single, compressHandler{tools: tools}, ToolShrink)
	r.Register("pdf", ToolRotate, single, rotateHandler{})
	r.Register("pdf", ToolImageToPDF, AtLeast(1), imageToPDFHandler{}, ToolImagesToPDF, ToolJPGToPDF, ToolPNGToPDF)

	r.Register("extract", ToolPDFToExcel, single, pagesToCSV(), ToolPDFToCSV)
	r.Register("extract", ToolPDFToXML, single, pagesToXML())
	r.Register("extract", ToolPDFToText, single, pagesToText())
	r.Register("raster", ToolPDFToJPG, single, pdfToJPGHandler{tools: tools})

	r.Register("office", ToolPDFToWord, single, officeHandler{tools: tools, suffix: "document", target: "docx:MS Word 2007 XML", ext: ".docx", inFilter: "writer_pdf_import"})
	r.Register("office", ToolWordToPDF, single, officeHandler{tools: tools, suffix: "document", target: "pdf", ext: ".pdf"})
	r.Register("office", ToolPPTToPDF, single, officeHandler{tools: tools, suffix: "slides", target: "pdf", ext: ".pdf"})
	r.Register("office", ToolExcelToPDF, single, officeHandler{tools: tools, suffix: "sheet", target: "pdf", ext: ".pdf"})

	r.Register("document", ToolReorder, single, reorderTool())
	r.Register("document", ToolDeletePages, single, deletePagesTool())
	r.Register("document", ToolProtect, single, protectTool())
	r.Register("document", ToolUnlock, single, unlockTool())
	r.Register("document", ToolWatermark, single, watermarkTool())
	r.Register("document", ToolPageNumbers, single, pageNumbersTool())
	r.Register("document", ToolRepair, single, repairTool())
	r.Register("document", ToolOCR, single, ocrHandler{tools: tools})

	return r
}
