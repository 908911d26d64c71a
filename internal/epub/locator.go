package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const xlinkNS = "http://www.w3.org/1999/xlink"

// Ref 是一次图片引用：Path 为归档内路径，Doc 为引用它的 spine 文档。
type Ref struct {
	Path string
	Doc  string
}

// Warning 描述定位阶段被跳过的资源（文件整体不因此失败）。
type Warning struct {
	Path string
	Msg  string
}

// Result 是按阅读顺序排列的图片引用（可重复：同一张图被引用两次就出现两次）。
type Result struct {
	Refs     []Ref
	Warnings []Warning
}

var rasterTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

var documentTypes = map[string]bool{
	"application/xhtml+xml": true,
	"text/html":             true,
	"image/svg+xml":         true,
}

// LocateImages 按 spine 顺序收集页面图片引用。
//
// 约束：
// - spine 项本身是位图：直接追加该项路径
// - spine 项是 XHTML/HTML/SVG：收集其中每个 image 元素的 xlink:href
// - 其他 media type 静默跳过；缺失的资源记为 Warning
// - 结果为空时返回 ErrNoImagesFound（同时返回已收集的 Warnings）
func LocateImages(fsys fs.FS) (Result, error) {
	pkg, err := ReadPackage(fsys)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, idref := range pkg.Spine {
		it, ok := pkg.Manifest[idref]
		if !ok {
			res.Warnings = append(res.Warnings, Warning{Path: idref, Msg: "spine 引用的 id 不在 manifest 中"})
			continue
		}
		if it.Path == "" && rasterTypes[it.MediaType] {
			it.Path = fallbackRefPath(it.Href)
		}
		if it.Path == "" {
			res.Warnings = append(res.Warnings, Warning{Path: it.Href, Msg: "非法的资源路径"})
			continue
		}

		switch {
		case rasterTypes[it.MediaType]:
			res.Refs = append(res.Refs, Ref{Path: it.Path, Doc: pkg.OPFPath})
		case documentTypes[it.MediaType]:
			p, ok := lookupInsensitive(fsys, it.Path)
			if !ok {
				res.Warnings = append(res.Warnings, Warning{Path: it.Path, Msg: "spine 文档不存在"})
				continue
			}
			data, err := readFile(fsys, p)
			if err != nil {
				res.Warnings = append(res.Warnings, Warning{Path: it.Path, Msg: err.Error()})
				continue
			}
			hrefs, err := ExtractImageRefs(data)
			if err != nil {
				res.Warnings = append(res.Warnings, Warning{Path: it.Path, Msg: err.Error()})
				continue
			}
			for _, h := range hrefs {
				if isExternal(h) {
					continue
				}
				rp := resolveRelativePath(p, h)
				if rp == "" {
					rp = fallbackRefPath(h)
				}
				if rp == "" {
					res.Warnings = append(res.Warnings, Warning{Path: h, Msg: fmt.Sprintf("%s 中的引用为空", p)})
					continue
				}
				res.Refs = append(res.Refs, Ref{Path: rp, Doc: p})
			}
		}
	}

	if len(res.Refs) == 0 {
		return res, ErrNoImagesFound
	}
	return res, nil
}

// ExtractImageRefs 返回文档中每个 image 元素的 xlink:href（文档顺序，原样未解析）。
//
// 先走 XML token 流：自闭合 <image/> 与 <image></image> 都只产生一次 StartElement。
// 文档不是良构 XML 时退回到 goquery 的宽松 HTML 解析。
func ExtractImageRefs(doc []byte) ([]string, error) {
	if refs, err := extractXML(doc); err == nil {
		return refs, nil
	}
	return extractHTML(doc)
}

func extractXML(doc []byte) ([]string, error) {
	d := newDecoder(doc)
	var refs []string
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return refs, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "image" {
			continue
		}
		for _, a := range se.Attr {
			if a.Name.Local == "href" && (a.Name.Space == xlinkNS || a.Name.Space == "xlink") {
				refs = append(refs, a.Value)
				break
			}
		}
	}
}

func extractHTML(doc []byte) ([]string, error) {
	r, err := charset.NewReader(bytes.NewReader(stripBOM(doc)), "text/html")
	if err != nil {
		return nil, err
	}
	gd, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var refs []string
	gd.Find("image").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			if h, ok := xlinkHref(n); ok {
				refs = append(refs, h)
			}
		}
	})
	return refs, nil
}

// xlinkHref 兼容 SVG 外来内容中被拆成 {Namespace:"xlink", Key:"href"} 的属性。
func xlinkHref(n *html.Node) (string, bool) {
	for _, a := range n.Attr {
		if (a.Namespace == "xlink" && a.Key == "href") || a.Key == "xlink:href" {
			return a.Val, true
		}
	}
	return "", false
}

func isExternal(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(h, "data:") || strings.Contains(h, "://")
}
