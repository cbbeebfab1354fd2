package storage

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/logger"
)

const (
	delimiter = "|"
	numFields = 12 // ID|Kind|Tier|Address|Port|Protocol|Source|LatencyMs|LastChecked|CooldownUntil|FailureCount|SuccessCount
)

// FileStorage 使用纯文本文件持久化身份统计。死亡身份同样保存，
// 重启后统计数据仍可用于诊断。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Load 从纯文本文件加载身份数据到内存 map 中。
func (fs *FileStorage) Load() (map[string]*model.NetworkIdentity, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("IdentityPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Identity data file not found, starting with an empty pool.")
			return make(map[string]*model.NetworkIdentity), nil
		}
		return nil, err
	}
	defer file.Close()

	identMap := make(map[string]*model.NetworkIdentity)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in identity file.")
			continue
		}

		ident, err := parseIdentity(fields)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse identity from line, skipping.")
			continue
		}
		identMap[ident.ID] = ident
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Info().Int("count", len(identMap)).Msg("Successfully loaded identities from file.")
	return identMap, nil
}

// Save 将内存中的身份 map 持久化到纯文本文件。
func (fs *FileStorage) Save(identities map[string]*model.NetworkIdentity) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("IdentityPool/Storage")

	identList := make([]*model.NetworkIdentity, 0, len(identities))
	for _, ident := range identities {
		if ident.Kind == model.KindDirect {
			continue // 直连身份无需持久化
		}
		identList = append(identList, ident)
	}

	sort.Slice(identList, func(i, j int) bool {
		return identList[i].ID < identList[j].ID
	})

	var sb strings.Builder
	for _, ident := range identList {
		sb.WriteString(formatIdentity(ident))
		sb.WriteString("\n")
	}

	if err := os.WriteFile(fs.filePath, []byte(sb.String()), 0644); err != nil {
		return err
	}

	l.Info().Int("count", len(identList)).Msg("Successfully saved identities to file.")
	return nil
}

// formatIdentity 将 NetworkIdentity 对象格式化为一行文本。
// 凭据不落盘，重启后由配置重新补齐。
func formatIdentity(n *model.NetworkIdentity) string {
	return strings.Join([]string{
		n.ID,
		string(n.Kind),
		string(n.Tier),
		n.Address,
		strconv.Itoa(n.Port),
		n.Protocol,
		n.Source,
		strconv.FormatInt(n.Latency.Milliseconds(), 10),
		strconv.FormatInt(n.LastCheckedAt.Unix(), 10),
		strconv.FormatInt(n.CooldownUntil.Unix(), 10),
		strconv.Itoa(n.FailureCount),
		strconv.Itoa(n.SuccessCount),
	}, delimiter)
}

// parseIdentity 从字符串切片解析出一个 NetworkIdentity 对象。
func parseIdentity(fields []string) (*model.NetworkIdentity, error) {
	port, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	latencyMs, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latency: %w", err)
	}

	lastCheckedUnix, err := strconv.ParseInt(fields[8], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_checked: %w", err)
	}

	cooldownUnix, err := strconv.ParseInt(fields[9], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cooldown_until: %w", err)
	}

	failureCount, err := strconv.Atoi(fields[10])
	if err != nil {
		return nil, fmt.Errorf("invalid failure_count: %w", err)
	}

	successCount, err := strconv.Atoi(fields[11])
	if err != nil {
		return nil, fmt.Errorf("invalid success_count: %w", err)
	}

	n := &model.NetworkIdentity{
		ID:           fields[0],
		Kind:         model.Kind(fields[1]),
		Tier:         model.Tier(fields[2]),
		Address:      fields[3],
		Port:         port,
		Protocol:     fields[5],
		Source:       fields[6],
		Latency:      time.Duration(latencyMs) * time.Millisecond,
		FailureCount: failureCount,
		SuccessCount: successCount,
	}

	if lastCheckedUnix > 0 {
		n.LastCheckedAt = time.Unix(lastCheckedUnix, 0)
	}
	if cooldownUnix > 0 {
		n.CooldownUntil = time.Unix(cooldownUnix, 0)
	}

	// 持久化的身份一律视为待复验：存活状态不落盘，由下一次健康检查决定。
	n.Alive = false

	return n, nil
}
