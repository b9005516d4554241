package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	"chatsync/pkg/logger"
)

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  ./admin show-chat <chatID>                           - 显示会话和全部消息")
	fmt.Println("  ./admin set-prize <period> <first> <second> <third>  - 设置周期奖励金币")
	fmt.Println("  ./admin export-rankings <period|all> <file.xlsx>     - 导出排行榜到 Excel")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, true)
	defer logger.Sync()

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		logger.Fatal("无法连接数据库", err)
	}
	ctx := context.Background()

	switch os.Args[1] {
	case "show-chat":
		if len(os.Args) < 3 {
			logger.Fatal("需要指定会话ID", nil)
		}
		chatID, err := storage.ParseID(os.Args[2])
		if err != nil {
			logger.Fatal("无效的会话ID", err)
		}
		showChat(ctx, db, chatID)

	case "set-prize":
		if len(os.Args) < 6 {
			logger.Fatal("需要指定周期和三个名次的金币数", nil)
		}
		prize, err := parsePrize(os.Args[2:6])
		if err != nil {
			logger.Fatal("参数错误", err)
		}
		if err := storage.NewGormCoinPrizeRepository(db).Upsert(ctx, prize); err != nil {
			logger.Fatal("保存奖励失败", err)
		}
		fmt.Printf("已设置 %s 奖励: %d / %d / %d\n", prize.PeriodType, prize.FirstPlace, prize.SecondPlace, prize.ThirdPlace)

	case "export-rankings":
		if len(os.Args) < 4 {
			logger.Fatal("需要指定周期和输出文件", nil)
		}
		periods, err := parsePeriods(os.Args[2])
		if err != nil {
			logger.Fatal("参数错误", err)
		}
		rankings := services.NewRankingService(storage.NewGormMessageRepository(db),
			storage.NewGormCoinPrizeRepository(db), nil, cfg.Ranking, nil)
		if err := exportRankings(ctx, rankings, periods, os.Args[3]); err != nil {
			logger.Fatal("导出排行榜失败", err)
		}
		fmt.Printf("排行榜已导出到 %s\n", os.Args[3])

	default:
		usage()
		os.Exit(1)
	}
}

func showChat(ctx context.Context, db *gorm.DB, chatID uint) {
	chat, err := storage.NewGormChatRepository(db).GetByID(ctx, chatID)
	if err != nil {
		logger.Fatal("获取会话失败", err)
	}
	fmt.Printf("会话 %d 信息:\n", chat.ID)
	fmt.Println("--------------------------------------")
	fmt.Printf("参与者: %d, %d\n", chat.User1ID, chat.User2ID)
	fmt.Printf("创建时间: %s\n", chat.CreatedAt.Format(time.DateTime))
	if chat.LastMessageAt != nil {
		fmt.Printf("最后消息时间: %s\n", chat.LastMessageAt.Format(time.DateTime))
	}

	messages, err := storage.NewGormMessageRepository(db).ListByChat(ctx, chatID, 0, 0)
	if err != nil {
		logger.Fatal("获取消息失败", err)
	}
	fmt.Printf("消息 (%d 条):\n", len(messages))
	for _, m := range messages {
		content := ""
		if m.Content != nil {
			content = *m.Content
		}
		fmt.Printf("  #%d [%s] %d -> %d (%s, read=%v) %s\n",
			m.ID, m.CreatedAt.Format(time.DateTime), m.SenderID, m.ReceiverID, m.Type, m.Read, content)
	}
}

func parsePrize(args []string) (*models.CoinPrize, error) {
	period := models.PeriodType(args[0])
	if !period.Valid() {
		return nil, fmt.Errorf("未知周期 %q", args[0])
	}
	var places [3]int
	for i, s := range args[1:4] {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("无效的金币数 %q", s)
		}
		places[i] = n
	}
	return &models.CoinPrize{
		PeriodType:  string(period),
		FirstPlace:  places[0],
		SecondPlace: places[1],
		ThirdPlace:  places[2],
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func parsePeriods(arg string) ([]models.PeriodType, error) {
	if arg == "all" {
		return models.AllPeriods, nil
	}
	p := models.PeriodType(arg)
	if !p.Valid() {
		return nil, fmt.Errorf("未知周期 %q", arg)
	}
	return []models.PeriodType{p}, nil
}
