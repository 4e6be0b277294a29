package classify

// Topics of the default rules.
const (
	TopicAI            = "ai"
	TopicSecurity      = "security"
	TopicIT            = "it"
	TopicNewProduct    = "new_product"
	TopicNewTechnology = "new_technology"
	TopicAcademicPaper = "academic_paper"
)

// DefaultRules returns the built-in topic rules. Keywords cover the English
// and Japanese sources in the default registry.
func DefaultRules() []Rule {
	return []Rule{
		{
			Topic: TopicAI,
			Keywords: []string{
				"ai", "artificial intelligence", "machine learning", "deep learning",
				"llm", "llms", "large language model", "generative ai", "neural network",
				"gpt", "chatgpt", "openai", "anthropic", "claude", "gemini", "transformer",
				"人工知能", "機械学習", "深層学習", "ディープラーニング", "生成ai",
				"大規模言語モデル", "自然言語処理", "ニューラルネットワーク",
			},
		},
		{
			Topic: TopicSecurity,
			Keywords: []string{
				"security", "vulnerability", "vulnerabilities", "exploit", "malware",
				"ransomware", "phishing", "cve", "zero day", "breach", "backdoor",
				"セキュリティ", "脆弱性", "マルウェア", "ランサムウェア", "不正アクセス",
				"サイバー攻撃", "情報漏洩", "フィッシング",
			},
		},
		{
			Topic: TopicIT,
			Keywords: []string{
				"software", "cloud", "kubernetes", "database", "server", "programming",
				"developer", "api", "open source", "linux", "aws", "rust", "golang",
				"クラウド", "ソフトウェア", "エンジニア", "プログラミング", "データベース",
				"サーバー", "オープンソース", "開発者",
			},
		},
		{
			Topic: TopicNewProduct,
			Keywords: []string{
				"launch", "launches", "launched", "release", "releases", "released",
				"announces", "unveils", "introduces", "new product", "available now",
				"発表", "発売", "リリース", "提供開始", "新製品", "新サービス",
			},
		},
		{
			Topic: TopicNewTechnology,
			Keywords: []string{
				"breakthrough", "new technology", "innovation", "prototype", "state of the art",
				"新技術", "革新", "実証実験", "最先端",
			},
		},
		{
			Topic: TopicAcademicPaper,
			Keywords: []string{
				"paper", "arxiv", "preprint", "journal", "proceedings", "peer reviewed",
				"neurips", "icml", "acl", "cvpr",
				"論文", "学会", "査読", "研究成果",
			},
		},
	}
}
