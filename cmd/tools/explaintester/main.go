package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	defaultBase := os.Getenv("EXPLAIN_BASE_URL")
	if defaultBase == "" {
		defaultBase = "http://localhost:8080"
	}

	base := flag.String("base", defaultBase, "服务地址")
	imagePath := flag.String("image", "", "图表截图路径 (PNG/JPEG/WebP)")
	dataPath := flag.String("data", "", "结构化数据 JSON 文件路径")
	topic := flag.String("topic", "fees", "图表主题")
	question := flag.String("question", "", "首轮提问，留空使用默认问题")
	follow := flag.String("follow", "", "追问内容，通过 SSE 流式返回")
	keep := flag.Bool("keep", false, "结束后保留会话")
	timeout := flag.Duration("timeout", 90*time.Second, "请求超时时间")

	flag.Parse()

	if *imagePath == "" {
		flag.Usage()
		log.Fatal("请通过 -image 指定截图文件")
	}

	img, err := capture.EncodeFile(*imagePath)
	if err != nil {
		log.Fatalf("读取截图失败: %v", err)
	}

	var data json.RawMessage
	if *dataPath != "" {
		raw, err := os.ReadFile(*dataPath)
		if err != nil {
			log.Fatalf("读取数据文件失败: %v", err)
		}
		if !json.Valid(raw) {
			log.Fatalf("数据文件不是合法 JSON: %s", *dataPath)
		}
		data = raw
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &http.Client{}
	log.Printf("开始解释测试: topic=%s image=%s %dx%d", *topic, img.Format(), img.Width, img.Height)

	sessionID, reply := start(ctx, client, *base, map[string]any{
		"topicId":  *topic,
		"image":    img.DataURI(),
		"data":     data,
		"question": *question,
	})
	log.Printf("会话已创建: session=%s", sessionID)
	fmt.Println(reply)

	if *follow != "" {
		stream(ctx, client, *base, sessionID, *follow)
	}

	if !*keep {
		closeSession(ctx, client, *base, sessionID)
		log.Printf("会话已关闭: session=%s", sessionID)
	}
}

func start(ctx context.Context, client *http.Client, base string, payload map[string]any) (string, string) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("序列化请求失败: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/explanations", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	var result struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Reply struct {
			Content string `json:"content"`
		} `json:"reply"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("解析响应失败: status=%d err=%v", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("解释失败: status=%d error=%q", resp.StatusCode, result.Error)
	}
	return result.Session.ID, result.Reply.Content
}

func stream(ctx context.Context, client *http.Client, base, sessionID, question string) {
	target := fmt.Sprintf("%s/api/explanations/%s/stream?message=%s", base, sessionID, url.QueryEscape(question))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		log.Fatalf("创建请求失败: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("流式请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		log.Fatalf("流式请求失败: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var event struct {
			Event   string `json:"event"`
			Content string `json:"content"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &event); err != nil {
			log.Printf("[WARN] 无法解析事件: %v", err)
			continue
		}
		switch event.Event {
		case "delta":
			fmt.Print(event.Content)
		case "error":
			fmt.Println()
			log.Fatalf("流式解释失败: %s", event.Error)
		case "end":
			fmt.Println()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("读取流失败: %v", err)
	}
}

func closeSession(ctx context.Context, client *http.Client, base, sessionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/api/explanations/"+sessionID, nil)
	if err != nil {
		log.Fatalf("创建请求失败: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("关闭会话失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		log.Printf("[WARN] 关闭会话返回 status=%d", resp.StatusCode)
	}
}
