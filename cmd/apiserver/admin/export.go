package main

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"chatsync/internal/models"
	"chatsync/internal/services"
)

var rankingHeader = []string{"Rank", "User ID", "Name", "Messages"}

// exportRankings 每个周期一个工作表。
func exportRankings(ctx context.Context, rankings services.RankingService, periods []models.PeriodType, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, period := range periods {
		entries, err := rankings.Rankings(ctx, period)
		if err != nil {
			return fmt.Errorf("rankings %s: %w", period, err)
		}
		sheet := string(period)
		if i == 0 {
			// 新文件自带一个 Sheet1
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := writeRankingSheet(f, sheet, entries); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	return f.SaveAs(path)
}

func writeRankingSheet(f *excelize.File, sheet string, entries []models.RankingEntry) error {
	for col, title := range rankingHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
	}
	for i, e := range entries {
		row := []interface{}{e.Rank, e.UserID, e.Name, e.MessageCount}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
