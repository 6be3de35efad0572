package models

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/xuri/excelize/v2"
)

var livroExportHeadings = []string{"Número", "Folha", "Tipo", "Data", "Partes", "Emolumentos", "Averbações"}

// ExportLivroXlsx writes the book index as a spreadsheet and returns the file name.
func ExportLivroXlsx(ctx context.Context, livroId int, w io.Writer) (string, error) {
	livro, err := GetLivro(ctx, livroId)
	if err != nil {
		return "", err
	}
	db := config.GetDB()
	var atos []*Ato
	if err := db.WithContext(ctx).
		Preload("Averbacoes").
		Omit("conteudo", "dados_extraidos").
		Where("livro_id = ?", livroId).
		Order("numero").
		Find(&atos).Error; err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := fmt.Sprintf("Livro %d", livro.Numero)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return "", err
	}

	for i, h := range livroExportHeadings {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, a := range atos {
		row := i + 2
		values := []interface{}{
			a.Numero,
			a.Folha,
			a.Tipo,
			a.Data.Format("02/01/2006"),
			strings.Join(a.Partes, "; "),
			utils.FormatMoney(a.Emolumentos),
			len(a.Averbacoes),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, v)
		}
	}
	if err := f.SetColWidth(sheet, "E", "E", 60); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("livro-%s-%d.xlsx", strings.ReplaceAll(strings.ToLower(livro.Tipo), " ", "-"), livro.Numero)
	if err := f.Write(w); err != nil {
		return "", err
	}
	return filename, nil
}
