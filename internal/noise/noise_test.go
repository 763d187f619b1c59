package noise

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"bcaugment/internal/diag"
	"bcaugment/pkg/contract"
)

func rng(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, 17)) }

var liMin = contract.Identity{Name: "李敏", Age: 63, Gender: contract.GenderFemale}

const wangLiNote = "患者王丽/56，女，2019-05-03行根治手术，术后病理示浸润性导管癌，" +
	"免疫组化：ER(80%)，HER-2(2+)，Ki-67(30%)。腋窝淋巴结转移(3个)，临床分期cT2N1M0，术后规律随访。"

// 按提示词主题返回固定噪声块：行政信息与表头均携带他人身份。
func scriptedGenerator(calls *atomic.Int64) contract.GeneratorFunc {
	return func(_ context.Context, prompt string) (string, error) {
		calls.Add(1)
		switch {
		case strings.Contains(prompt, "医院行政信息"):
			return "**姓名：王丽**\n性别：男\n年龄：56岁\n医院：***\n科室：某某\n主治医生：**", nil
		case strings.Contains(prompt, "表格表头"):
			return "姓名 年龄 性别 科室\n王丽 56 男 XX科室", nil
		default:
			return "", errors.New("unexpected prompt")
		}
	}
}

// 零概率 OCR 下，块在成品中的形态：换行合并后执行第三阶段。
func enforcedBlock(b Block, foreign Foreign) string {
	return Enforce(strings.ReplaceAll(b.Text, "\n", " "), liMin, foreign)
}

func mustCatalog(t *testing.T, doc string) *Catalog {
	t.Helper()
	c, err := ParseCatalog(strings.NewReader(doc))
	require.NoError(t, err)
	return c
}

type InjectorSuite struct {
	suite.Suite
	calls   atomic.Int64
	metrics *diag.Metrics
	inj     *Injector
}

func (s *InjectorSuite) SetupTest() {
	s.calls.Store(0)
	s.metrics = diag.NewMetrics()
	opts := DefaultOptions()
	opts.OCR = OCRConfig{}
	opts.BlockConcurrency = 3
	cat := mustCatalog(s.T(), `{"administrative":{"weight":1,"length":[50,100]},"table_header":{"weight":1,"length":[30,80]}}`)
	inj, err := New(scriptedGenerator(&s.calls), cat, opts, zerolog.Nop(), s.metrics)
	s.Require().NoError(err)
	s.inj = inj
}

// UT-NOI-01: 王丽/56 的正文在身份 (李敏, 63) 下注入后，全文只出现 李敏/63。
func (s *InjectorSuite) TestIdentityScenario() {
	sawBlocks := 0
	for seed := uint64(0); seed < 40; seed++ {
		res, err := s.inj.Inject(context.Background(), wangLiNote, liMin, rng(seed))
		s.Require().NoError(err)
		s.NotContains(res.Text, "王丽")
		s.NotContains(res.Text, "56")
		s.NotContains(res.Text, "男")
		s.NotContains(res.Text, "*")
		s.Contains(res.Text, "李敏")
		s.Contains(res.Text, "63")
		foreign := ExtractForeign(res.Clean, liMin)
		for _, b := range res.Blocks {
			enforced := enforcedBlock(b, foreign)
			s.Contains(enforced, "李敏", "块 %s", b.Type)
			s.Contains(enforced, "63", "块 %s", b.Type)
			s.Contains(res.Text, enforced)
		}
		s.GreaterOrEqual(strings.Count(res.Text, "李敏"), len(res.Blocks)+1)
		s.Equal(res.Text, Enforce(res.Text, liMin, foreign), "第三阶段幂等")
		sawBlocks += len(res.Blocks)
	}
	s.Positive(sawBlocks)
	s.Equal(int64(sawBlocks), s.calls.Load())
}

// UT-NOI-02: 块顺序与抽取顺序一致，前置块位于正文之前
func (s *InjectorSuite) TestBlockPlacement() {
	for seed := uint64(0); seed < 20; seed++ {
		res, err := s.inj.Inject(context.Background(), wangLiNote, liMin, rng(seed))
		s.Require().NoError(err)
		bodyAt := strings.Index(res.Text, "行根治手术")
		s.Require().GreaterOrEqual(bodyAt, 0)
		foreign := ExtractForeign(res.Clean, liMin)
		for _, b := range res.Blocks {
			text := enforcedBlock(b, foreign)
			if b.Front {
				at := strings.Index(res.Text, text)
				s.GreaterOrEqual(at, 0)
				s.Less(at, bodyAt)
			} else {
				s.Greater(strings.LastIndex(res.Text, text), bodyAt)
			}
		}
	}
}

// UT-NOI-03: 协作方失败的块被丢弃，不影响结果
func (s *InjectorSuite) TestFailedBlocksDropped() {
	fail := contract.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", contract.ErrRateLimited
	})
	inj, err := New(fail, nil, Options{MaxFront: 3, MaxBack: 3}, zerolog.Nop(), s.metrics)
	s.Require().NoError(err)
	res, err := inj.Inject(context.Background(), wangLiNote, liMin, rng(3))
	s.Require().NoError(err)
	s.Empty(res.Blocks)
	s.Contains(res.Text, "李敏/63")
}

// UT-NOI-04: 第三阶段完成前取消返回 ErrIncomplete 且不返回文本
func (s *InjectorSuite) TestCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.inj.Inject(ctx, wangLiNote, liMin, rng(1))
	s.ErrorIs(err, contract.ErrIncomplete)
	s.Empty(res.Text)
}

func (s *InjectorSuite) TestMetricsCounted() {
	for seed := uint64(0); seed < 10; seed++ {
		_, err := s.inj.Inject(context.Background(), wangLiNote, liMin, rng(seed))
		s.Require().NoError(err)
	}
	n, err := testutil.GatherAndCount(s.metrics.Registry(), "bcaugment_noise_blocks_total")
	s.Require().NoError(err)
	s.Positive(n)
}

// UT-NOI-10: 协作方在块中虚构第三个身份（表头行、表格行、“张三，45岁”），成品中只保留目标身份。
func (s *InjectorSuite) TestFabricatedIdentityBlocks() {
	var calls atomic.Int64
	gen := contract.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		calls.Add(1)
		switch {
		case strings.Contains(prompt, "医院行政信息"):
			return "患者张秀英，45岁，女\n住院号：A1032\n主治医生：某某", nil
		case strings.Contains(prompt, "表格表头"):
			return "姓名 年龄 性别 科室\n张秀英 45 女 乳腺外科", nil
		case strings.Contains(prompt, "表格行拼接"):
			return "赵雪 52 女 乳腺外科 3床 周玉 39 女 普外科 12床", nil
		default:
			return "", errors.New("unexpected prompt")
		}
	})
	opts := DefaultOptions()
	opts.OCR = OCRConfig{}
	cat := mustCatalog(s.T(), `{"administrative":{"weight":1,"length":[20,60]},"table_header":{"weight":1,"length":[20,60]},"table_row_merge":{"weight":1,"length":[20,60]}}`)
	inj, err := New(gen, cat, opts, zerolog.Nop(), nil)
	s.Require().NoError(err)

	sawBlocks := 0
	for seed := uint64(0); seed < 30; seed++ {
		res, err := inj.Inject(context.Background(), wangLiNote, liMin, rng(seed))
		s.Require().NoError(err)
		for _, leak := range []string{"张秀英", "赵雪", "周玉", "王丽", "45", "52", "39", "56"} {
			s.NotContains(res.Text, leak, "seed %d: %s", seed, res.Text)
		}
		s.Empty(ExtractForeign(res.Text, liMin), "seed %d: %s", seed, res.Text)
		s.NotContains(res.Text, "姓名：李敏年龄", "表头不应被填入姓名")
		s.Equal(res.Text, Enforce(res.Text, liMin, Foreign{}), "第三阶段幂等")
		sawBlocks += len(res.Blocks)
	}
	s.Positive(sawBlocks)
}

func TestInjectorSuite(t *testing.T) {
	suite.Run(t, new(InjectorSuite))
}

// UT-NOI-05: 目录加权抽样与放大类型
func TestCatalogPick(t *testing.T) {
	c := DefaultCatalog()
	require.Len(t, c.Entries(), 14)
	counts := map[Type]int{}
	r := rng(9)
	for i := 0; i < 20000; i++ {
		typ, ok := c.Pick(r)
		require.True(t, ok)
		counts[typ]++
	}
	// serial_merge 基础权重 0.1 放大 3 倍，应明显多于同为 0.1 的 hospital_info
	assert.Greater(t, counts[TypeSerialMerge], 2*counts[TypeHospitalInfo])
	assert.Greater(t, counts[TypeAdministrative], counts[TypeCovidTest])

	a, b := rng(5), rng(5)
	for i := 0; i < 50; i++ {
		x, _ := c.Pick(a)
		y, _ := c.Pick(b)
		assert.Equal(t, x, y, "同种子抽样可复现")
	}

	_, ok := (&Catalog{}).Pick(r)
	assert.False(t, ok)
}

func TestParseCatalog(t *testing.T) {
	c := mustCatalog(t, `{"covid_test":{"prob":0.5,"length":[10,20]},"remove_space":{"weight":0.2},"computer_menu":{"weight":0}}`)
	require.Len(t, c.Entries(), 2, "权重为 0 的类型不参与抽样")
	e, ok := c.Lookup(TypeCovidTest)
	require.True(t, ok)
	assert.Equal(t, Entry{Type: TypeCovidTest, Weight: 0.5, Min: 10, Max: 20}, e)

	for _, bad := range []string{
		`{"bogus":{"weight":1}}`,
		`{"covid_test":{"weight":1,"length":[1]}}`,
		`{"covid_test":{"weight":1,"length":[20,10]}}`,
		`{"covid_test":{"weight":-1}}`,
		`{"covid_test":{"weight":1,"extra":true}}`,
		`[]`,
	} {
		_, err := ParseCatalog(strings.NewReader(bad))
		assert.ErrorIs(t, err, contract.ErrInvalidInput, bad)
	}
}

func TestLoadCatalogFallback(t *testing.T) {
	assert.Len(t, LoadCatalog("", zerolog.Nop()).Entries(), 14)
	assert.Len(t, LoadCatalog(filepath.Join(t.TempDir(), "missing.json"), zerolog.Nop()).Entries(), 14)

	path := filepath.Join(t.TempDir(), "noise.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"serial_merge":{"weight":1,"length":[80,200]}}`), 0o644))
	assert.Len(t, LoadCatalog(path, zerolog.Nop()).Entries(), 1)
}

func TestPrompt(t *testing.T) {
	e, _ := DefaultCatalog().Lookup(TypeLabResult)
	p := Prompt(e, "上下文片段", liMin)
	for _, s := range []string{"详细检验结果", "信息名称：具体信息", "姓名：李敏，性别：女，年龄：63岁", "100-300字", "不允许使用*、某", "上下文片段"} {
		assert.Contains(t, p, s)
	}
	e, _ = DefaultCatalog().Lookup(TypeRemoveSpace)
	assert.NotContains(t, Prompt(e, "", liMin), "字；")
}

func TestClean(t *testing.T) {
	assert.Equal(t, "患者李敏 性别：女 女性乳腺癌",
		Clean("  患者**李敏**\n\n性别: 男\t男性乳腺癌 "))
}

// UT-NOI-06: 删除空格只删除空格，不增加字符
func TestRemoveSpaces(t *testing.T) {
	text := "姓名：李敏 年龄：63岁 性别：女 ER (80%) Ki-67 30% 术后 随访"
	spaces := strings.Count(text, " ")
	nonSpace := strings.ReplaceAll(text, " ", "")
	r := rng(4)
	for i := 0; i < 200; i++ {
		out := RemoveSpaces(text, spaceDropProb, r)
		assert.LessOrEqual(t, len(out), len(text))
		assert.LessOrEqual(t, len(text)-len(out), spaces)
		assert.Equal(t, nonSpace, strings.ReplaceAll(out, " ", ""))
	}
	assert.Equal(t, "无空格文本", RemoveSpaces("无空格文本", 1, r))
	assert.Equal(t, "ab", RemoveSpaces("a b", 1, r))
}

// UT-NOI-07: 截断：短文本不变；长文本结果为原文连续片段
func TestTruncate(t *testing.T) {
	short := strings.Repeat("字", 49)
	r := rng(8)
	for i := 0; i < 100; i++ {
		assert.Equal(t, short, Truncate(short, 50, r))
	}
	long := strings.Repeat("乳腺癌术后随访记录", 20)
	outcomes := map[string]bool{}
	for i := 0; i < 400; i++ {
		out := Truncate(long, 50, r)
		require.True(t, strings.Contains(long, out))
		n := len([]rune(out))
		assert.GreaterOrEqual(t, n, len([]rune(long))*4/10-1)
		switch {
		case out == long:
			outcomes["none"] = true
		case strings.HasPrefix(long, out):
			outcomes["end"] = true
		case strings.HasSuffix(long, out):
			outcomes["start"] = true
		default:
			outcomes["both"] = true
		}
	}
	assert.Len(t, outcomes, 4)
}

func TestOCRZeroConfig(t *testing.T) {
	in := "姓名：李敏\r\n年龄：63岁\n性别：女"
	assert.Equal(t, "姓名：李敏 年龄：63岁 性别：女", OCR(in, OCRConfig{}, rng(1)))
}

func TestOCRDefaultCorrupts(t *testing.T) {
	in := strings.Repeat("患者李敏，年龄：63岁，ER 80%，PR 10%，Ki-67 30%。\n", 5)
	r := rng(2)
	changed := 0
	for i := 0; i < 50; i++ {
		out := OCR(in, DefaultOCRConfig(), r)
		if out != in {
			changed++
		}
	}
	assert.Equal(t, 50, changed)
}

func TestDropHelpers(t *testing.T) {
	assert.Equal(t, "ab，c。", dropFirst("a，b，c。", func(r rune) bool { return r == '，' }, 1))
	assert.Equal(t, "ab c  d", dropSpaceRuns("a  b c  d", 1))
	assert.Equal(t, "abc  d", dropSpaceRuns("a  b c  d", 2))
}

// UT-NOI-08: 第三阶段幂等（含默认 OCR 噪声后的任意文本）
func TestEnforceIdempotent(t *testing.T) {
	fixture := "姓名：王** 性别：男 年龄：56岁 医院名称：*** 科室：XX 病房：某某 主治医生：** " +
		"患者姓名:张某 56岁女性 王丽/56 XX医院 **医生 表头|姓名|年龄|性别\t" + wangLiNote
	foreign := ExtractForeign(Clean(wangLiNote), liMin)
	r := rng(6)
	for i := 0; i < 300; i++ {
		noisy := OCR(fixture, DefaultOCRConfig(), r)
		once := Enforce(noisy, liMin, foreign)
		assert.Equal(t, once, Enforce(once, liMin, foreign), "输入: %q", noisy)
	}
}

func TestEnforceRewrites(t *testing.T) {
	foreign := ExtractForeign(Clean(wangLiNote), liMin)
	assert.Equal(t, []string{"王丽"}, foreign.Names)
	assert.Equal(t, []string{"56"}, foreign.Ages)

	out := Enforce("姓名：王**性别：男年龄：56 医院名称：*** 科室：XX 主治医生：某某 张某 56岁女性 李敏 70岁", liMin, foreign)
	assert.Contains(t, out, "姓名：李敏性别：女年龄：63")
	assert.NotContains(t, out, "*")
	assert.NotContains(t, out, "某")
	assert.NotContains(t, out, "XX")
	assert.Contains(t, out, "李敏 63岁")
	assert.NotContains(t, out, "张某")

	// 具体值由身份确定
	assert.Equal(t, Enforce("医院：***", liMin, Foreign{}), Enforce("医院：*", liMin, Foreign{}))
}

// UT-NOI-11: 文本自带的他人身份（无标签、表格、遮掩姓名）在未预先识别时同样被改写。
func TestEnforceFabricatedIdentities(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		leaks []string
		keep  string
	}{
		{"姓名逗号年龄", "患者张秀英，45岁，女，术后规律随访。", []string{"张秀英", "45"}, "术后规律随访"},
		{"姓名紧邻年龄", "张秀英45岁，乳腺癌术后。", []string{"张秀英", "45"}, "乳腺癌术后"},
		{"表头与取值行", "姓名 年龄 性别 科室\n张秀英 45 女 乳腺外科", []string{"张秀英", "45"}, "姓名 年龄 性别 科室"},
		{"表头折叠为单行", "姓名 年龄 性别 科室 张秀英 45 女 乳腺外科", []string{"张秀英", "45"}, "姓名 年龄 性别 科室"},
		{"表头列序不同", "年龄 姓名 科室\n45 张秀英 乳腺外科", []string{"张秀英", "45"}, "年龄 姓名 科室"},
		{"竖线表格", "|姓名|年龄|性别|\n|周玉|39|女|", []string{"周玉", "39"}, "|姓名|年龄|性别|"},
		{"表格行", "赵雪 52 女 乳腺外科 3床", []string{"赵雪", "52"}, "乳腺外科 3床"},
		{"斜线", "赵雪/52，女", []string{"赵雪", "52"}, ""},
		{"遮掩姓名", "王**，48岁，女。张某，复查", []string{"*", "某", "48"}, "复查"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Enforce(tc.in, liMin, Foreign{})
			for _, leak := range tc.leaks {
				assert.NotContains(t, out, leak, out)
			}
			assert.Contains(t, out, "李敏")
			assert.Contains(t, out, "63")
			assert.Contains(t, out, tc.keep)
			assert.Empty(t, ExtractForeign(out, liMin), out)
			assert.Equal(t, out, Enforce(out, liMin, Foreign{}), "幂等")
		})
	}

	assert.Equal(t, "患者李敏，63岁，女。李敏，63岁",
		Enforce("患者张秀英，45岁，女。王**，48岁", liMin, Foreign{}))
}

func TestExtractForeignTable(t *testing.T) {
	f := ExtractForeign("姓名 年龄 性别 科室\n张秀英 45 女 乳腺外科", liMin)
	assert.Equal(t, Foreign{Names: []string{"张秀英"}, Ages: []string{"45"}}, f)

	f = ExtractForeign("姓名 年龄 性别\n李敏 63 女", liMin)
	assert.Empty(t, f.Names)
	assert.Empty(t, f.Ages)

	merged := Foreign{Names: []string{"王丽"}, Ages: []string{"56"}}.Merge(f.Merge(Foreign{Names: []string{"张秀英"}, Ages: []string{"45"}}))
	assert.Equal(t, Foreign{Names: []string{"张秀英", "王丽"}, Ages: []string{"45", "56"}}, merged)
}

// 单个遮掩字符的机构与医生同样改写为具体值；医生不使用患者姓名。
func TestEnforceMaskedPlaceholders(t *testing.T) {
	out := Enforce("某医院某科室，张某医生查房", liMin, Foreign{})
	assert.NotContains(t, out, "某")
	assert.Contains(t, out, concrete(liMin, "医院")+concrete(liMin, "科室"))
	assert.Contains(t, out, concrete(liMin, "医生")+"医生查房")
	assert.NotContains(t, out, "李敏医生")
	assert.Equal(t, out, Enforce(out, liMin, Foreign{}))
}

func TestPinAfterName(t *testing.T) {
	assert.Equal(t, "李敏 63岁，李敏/1234，李敏", pinAfterName("李敏** 70岁，李敏/1234，李敏", "李敏", "63"))
	assert.Equal(t, "无姓名", pinAfterName("无姓名", "李敏", "63"))
	assert.Equal(t, "x", Enforce("x", contract.Identity{}, Foreign{}))
}

func TestDeriveIdentity(t *testing.T) {
	rec := &contract.Record{}
	rec.SetText(contract.FieldAge, "63岁")
	rec.SetText(contract.FieldName, "李敏")
	assert.Equal(t, liMin, DeriveIdentity(rec, rng(1)))

	for seed := uint64(0); seed < 50; seed++ {
		id := DeriveIdentity(&contract.Record{}, rng(seed))
		assert.True(t, id.Valid())
		assert.Equal(t, contract.GenderFemale, id.Gender)
		assert.GreaterOrEqual(t, id.Age, minFabricatedAge)
		assert.LessOrEqual(t, id.Age, maxFabricatedAge)
		assert.GreaterOrEqual(t, len([]rune(id.Name)), 2)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, DefaultOptions(), zerolog.Nop(), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	gen := contract.GeneratorFunc(func(context.Context, string) (string, error) { return "", nil })
	_, err = New(gen, nil, Options{MaxFront: -1}, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	inj, err := New(gen, nil, Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)
	_, err = inj.Inject(context.Background(), "x", contract.Identity{}, rng(1))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
