package registry

import (
	"slices"

	"github.com/pevans/newsagg/scraper"
)

var itmediaExclude = []string{
	".premium-info", ".premium-banner", ".article-rating", ".feedback",
	".newsletter", ".member-banner", ".read-more", ".colBoxPremium",
}

var zennTopics = []string{"自然言語処理", "生成ai", "rust", "ai", "基盤", "データサイエンス", "AWS"}

func feed(name, url, content string, exclude ...string) Definition {
	return Definition{
		Name:     name,
		URL:      url,
		Strategy: "feed",
		Article:  &scraper.ArticleConfig{ContentSelector: content},
		Exclude:  slices.Clone(exclude),
	}
}

// Builtins returns the definitions of the built-in sites. Each call returns
// fresh values that the caller may modify.
func Builtins() []Definition {
	defs := []Definition{
		feed("AI IT Now", "https://ainow.ai/feed/", "body div.contents div.article_area div.entry-content"),
		feed("AI News", "https://ai-news.dev/feeds/", "body"),
		{
			Name:     "AI Scholar",
			URL:      "https://ai-scholar.tech/",
			Strategy: "scrape",
			List: &scraper.ListConfig{
				ItemSelector:    "body div.content main.main section.indexlists article.list-item",
				LinkSelector:    "a",
				TitleSelector:   "a h3",
				SummarySelector: "a div.list-item__description span",
				DateSelector:    "a div.list-item__description time",
				DateFormat:      "2006-01-02 15:04:05-0700",
				MaxPages:        1,
			},
			Article: &scraper.ArticleConfig{ContentSelector: "article"},
		},
		feed("AIZINE", "https://otafuku-lab.co/aizine/feed/", "#main article div.entry-content"),
		feed("Cookpad Tech Blog", "https://techlife.cookpad.com/rss", "#main article div.entry-content"),
		feed("DeNA Engineering Blog", "https://engineering.dena.com/index.xml", "main article section.content-box"),
		feed("Gigazine", "https://gigazine.net/news/rss_2.0/", "#article div.cntimage",
			".bnrbox", ".cntbnr", ".relatedarticle", ".amazonbox", ".rakutenbox"),
		feed("GREE Tech Blog", "https://labs.gree.jp/blog/feed", "div.site-body article div.entry-body"),
		feed("ITMedia @IT", "https://rss.itmedia.co.jp/rss/2.0/ait.xml", "#cmsBody div.inner p", itmediaExclude...),
		feed("ITMedia Executive", "https://rss.itmedia.co.jp/rss/2.0/executive.xml", "#cmsBody div.inner p", itmediaExclude...),
		{
			Name:     "Mercari Engineering Blog",
			URL:      "https://engineering.mercari.com/blog/feed.xml",
			Strategy: "feed",
			Article: &scraper.ArticleConfig{
				ContentSelector:   "div.page-content",
				FallbackSelectors: []string{"main div.page-content", "main section div._body_5d9ad_19"},
			},
		},
		{
			Name:     "Nikkei XTech",
			URL:      "https://xtech.nikkei.com/rss/index.rdf",
			Strategy: "feed",
			Article: &scraper.ArticleConfig{
				ContentSelector:   "div.article_body",
				FallbackSelectors: []string{"article.article div.articleBody", "article.p-article .p-article_body"},
			},
		},
		feed("Retrieva", "https://retrieva.jp/news/feed/", "#content article div.entry-content"),
		feed("Rust Blog", "https://blog.rust-lang.org/feed", "section div.post"),
		{
			Name:     "Stockmark Tech Blog",
			URL:      "https://stockmark-tech.hatenablog.com/",
			Strategy: "scrape",
			List: &scraper.ListConfig{
				ItemSelector:    "#main section.archive-entry",
				LinkSelector:    "div.archive-entry-header h1 a",
				TitleSelector:   "div.archive-entry-header h1 a",
				SummarySelector: "div.archive-entry-body p.entry-description",
				DateSelector:    "div.archive-entry-header div.archive-date",
				DateFormat:      "2006-01-02",
				MaxPages:        1,
			},
			Article: &scraper.ArticleConfig{ContentSelector: "#main div.entry-inner"},
		},
		{
			Name:     "Supership",
			URL:      "https://supership.jp/news/",
			Strategy: "scrape",
			List: &scraper.ListConfig{
				ItemSelector:  "main article ul.p-magazine__archive li.p-magazine__card",
				LinkSelector:  "a",
				TitleSelector: "p.p-magazine__card_title",
				DateSelector:  "time.p-magazine__card_time",
				DateFormat:    "2006.01.02",
				MaxPages:      1,
			},
			Article: &scraper.ArticleConfig{ContentSelector: "main article div.c-grid__block--content"},
		},
		feed("TechCrunch", "https://techcrunch.com/feed/", "main div.entry-content p"),
		{
			Name:     "Tokyo University Engineering",
			URL:      "https://www.t.u-tokyo.ac.jp/press/rss.xml",
			Strategy: "feed",
			Article: &scraper.ArticleConfig{
				ContentSelector:   "div.blog-body-1__content",
				FallbackSelectors: []string{"main div.ly_cont div.blog_title", "div.bl_wysiwyg"},
			},
		},
		feed("Trend Micro Security Advisories", "http://feeds.trendmicro.com/jp/SecurityAdvisories",
			"section.TEArticle div.articleContainer"),
	}

	for _, topic := range zennTopics {
		defs = append(defs, feed("Zenn Topic - "+topic, "https://zenn.dev/topics/"+topic+"/feed", "article section",
			".LikeButton", ".BookmarkButton", ".AuthorProfile", ".SupportButton"))
	}

	return defs
}
