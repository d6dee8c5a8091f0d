// 打印当前评分模型的特征重要性和决策树（graphviz DOT）
//
// 用法: go run scripts/dump_model.go [-config configs] [-dot out.dot]

package main

import (
	"context"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/service"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"go.uber.org/zap"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	dotPath := flag.String("dot", "", "DOT 输出文件，默认输出到标准输出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	store, err := service.NewArtifactStore(&cfg.Storage)
	if err != nil {
		log.Fatalf("初始化模型存储失败: %v", err)
	}
	svc := service.NewRatingModelService(store, zap.NewNop())

	a, err := svc.Load(context.Background())
	if err != nil {
		log.Fatalf("读取模型失败: %v", err)
	}
	if !a.Trained() {
		fmt.Println("模型尚未训练")
		return
	}

	fmt.Printf("store: %s\nversion: %d\ntraining rows: %d\ndepth: %d, leaves: %d\n\n",
		store.Describe(), a.Version, a.TrainingRows, a.Tree.Depth(), a.Tree.Leaves())

	imp := a.ImportanceMap()
	names := make([]string, 0, len(imp))
	for name := range imp {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return imp[names[i]] > imp[names[j]] })
	for _, name := range names {
		fmt.Printf("%-24s %.4f\n", name, imp[name])
	}
	fmt.Println()

	var w io.Writer = os.Stdout
	if *dotPath != "" {
		f, err := os.Create(*dotPath)
		if err != nil {
			log.Fatalf("创建文件失败: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := a.Tree.WriteDOT(w, a.FeatureNames); err != nil {
		log.Fatalf("写入 DOT 失败: %v", err)
	}
}
