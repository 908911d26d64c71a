// Package epub 从 EPUB 包中按阅读顺序找出页面图片。
//
// 只依赖 fs.FS：生产环境传 archive.Reader.FS()（即 *zip.Reader），测试用 fstest.MapFS。
package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html/charset"
)

const containerPath = "META-INF/container.xml"

// maxDocSize 限制单个 container/OPF/XHTML 文档的读取大小。
const maxDocSize int64 = 64 << 20

var (
	ErrInvalidEPUB   = errors.New("epub: invalid package")
	ErrNoImagesFound = errors.New("epub: no images found")
)

// Item 是 manifest 中的一项；Path 已解析为归档内路径。
type Item struct {
	ID        string
	Href      string
	Path      string
	MediaType string
}

// Package 是解析后的 OPF：manifest 按 id 索引，spine 保留声明顺序的 idref。
type Package struct {
	OPFPath  string
	Manifest map[string]Item
	Spine    []string
}

type containerXML struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfXML struct {
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// ReadPackage 定位并解析 OPF。
//
// 定位顺序：META-INF/container.xml（大小写不敏感）→ 第一个 *.opf 文件。
func ReadPackage(fsys fs.FS) (*Package, error) {
	opfPath, err := findOPF(fsys)
	if err != nil {
		return nil, err
	}

	data, err := readFile(fsys, opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w：读取 OPF %s：%v", ErrInvalidEPUB, opfPath, err)
	}
	var x opfXML
	if err := decodeXML(data, &x); err != nil {
		return nil, fmt.Errorf("%w：解析 OPF %s：%v", ErrInvalidEPUB, opfPath, err)
	}

	pkg := &Package{
		OPFPath:  opfPath,
		Manifest: make(map[string]Item, len(x.Manifest.Items)),
		Spine:    make([]string, 0, len(x.Spine.ItemRefs)),
	}
	for _, it := range x.Manifest.Items {
		pkg.Manifest[it.ID] = Item{
			ID:        it.ID,
			Href:      it.Href,
			Path:      resolveRelativePath(opfPath, it.Href),
			MediaType: strings.ToLower(strings.TrimSpace(it.MediaType)),
		}
	}
	for _, ref := range x.Spine.ItemRefs {
		pkg.Spine = append(pkg.Spine, ref.IDRef)
	}
	return pkg, nil
}

func findOPF(fsys fs.FS) (string, error) {
	if p, ok := lookupInsensitive(fsys, containerPath); ok {
		data, err := readFile(fsys, p)
		if err != nil {
			return "", fmt.Errorf("%w：读取 container.xml：%v", ErrInvalidEPUB, err)
		}
		var c containerXML
		if err := decodeXML(data, &c); err != nil {
			return "", fmt.Errorf("%w：解析 container.xml：%v", ErrInvalidEPUB, err)
		}
		var fallback string
		for _, rf := range c.RootFiles {
			full := strings.TrimSpace(rf.FullPath)
			if full == "" {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(rf.MediaType), "application/oebps-package+xml") {
				return full, nil
			}
			if fallback == "" {
				fallback = full
			}
		}
		if fallback != "" {
			return fallback, nil
		}
	}

	var found string
	_ = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(p), ".opf") {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", fmt.Errorf("%w：找不到 OPF", ErrInvalidEPUB)
	}
	return found, nil
}

// lookupInsensitive 先精确匹配，再做大小写不敏感匹配。
func lookupInsensitive(fsys fs.FS, name string) (string, bool) {
	if fi, err := fs.Stat(fsys, name); err == nil && !fi.IsDir() {
		return name, true
	}
	var found string
	_ = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(p, name) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}

func readFile(fsys fs.FS, name string) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxDocSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxDocSize {
		return nil, fmt.Errorf("文档 %s 超过上限（%d 字节）", name, maxDocSize)
	}
	return b, nil
}

func decodeXML(data []byte, v any) error {
	d := newDecoder(data)
	return d.Decode(v)
}

// newDecoder 返回容忍 HTML 实体、会按声明转换编码的 XML 解码器。
func newDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(stripBOM(data)))
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel
	return d
}

// resolveRelativePath 以 base 所在目录解析 href，去掉 fragment/query。
// 绝对路径或穿越到根之外时返回空串。
func resolveRelativePath(base, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(base), href))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return ""
	}
	return cleaned
}

// fallbackRefPath 用于 resolveRelativePath 失败（绝对路径、越过根目录）的引用：
// 只保留文件名，交给按文件名的配对去找对应条目。
func fallbackRefPath(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	name := path.Base(path.Clean("/" + strings.ReplaceAll(href, "\\", "/")))
	if name == "/" || name == "." || name == ".." {
		return ""
	}
	return name
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}
