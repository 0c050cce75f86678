// internal/browser/script.go
package browser

import (
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/pagescout/pagescout/api/schemas"
)

// enumerateFunc lists candidate elements of the document in document order, in
// the shape of schemas.RawElement. Every driver evaluates the same function.
const enumerateFunc = `() => {
    const candidates = 'a[href], button, input, select, textarea, form, img, [role], [onclick], [contenteditable="true"], h1, h2, h3, label, nav, summary';

    function validIdent(s) {
        return !!s && !/^[0-9]/.test(s) && !/^-[0-9]/.test(s) && !/[.:#\[\]()>~+*\/\\\s'"]/.test(s);
    }

    function selectorFor(el) {
        if (el.id && validIdent(el.id)) {
            return '#' + el.id;
        }
        const tag = el.tagName.toLowerCase();
        if (el.getAttribute('name') && validIdent(el.getAttribute('name'))) {
            const byName = tag + '[name="' + el.getAttribute('name') + '"]';
            if (document.querySelectorAll(byName).length === 1) {
                return byName;
            }
        }
        const parent = el.parentElement;
        if (!parent) {
            return tag;
        }
        const index = Array.prototype.indexOf.call(parent.children, el) + 1;
        return selectorFor(parent) + ' > ' + tag + ':nth-child(' + index + ')';
    }

    function isHidden(el, rect) {
        const style = window.getComputedStyle(el);
        if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') {
            return true;
        }
        return rect.width === 0 && rect.height === 0;
    }

    const out = [];
    const seen = new Set();
    document.querySelectorAll(candidates).forEach(el => {
        const selector = selectorFor(el);
        if (seen.has(selector)) {
            return;
        }
        seen.add(selector);

        const rect = el.getBoundingClientRect();
        const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('alt') || '').trim();
        out.push({
            selector: selector,
            tag: el.tagName.toLowerCase(),
            id: el.id || '',
            classNames: (typeof el.className === 'string' && el.className.trim()) ? el.className.trim().split(/\s+/) : [],
            text: text,
            role: el.getAttribute('role') || '',
            href: el.getAttribute('href') || '',
            src: el.getAttribute('src') || '',
            inputType: el.tagName === 'INPUT' ? (el.getAttribute('type') || 'text').toLowerCase() : '',
            name: el.getAttribute('name') || '',
            placeholder: el.getAttribute('placeholder') || '',
            boundingBox: {
                x: Math.round(rect.left + window.scrollX),
                y: Math.round(rect.top + window.scrollY),
                width: Math.round(rect.width),
                height: Math.round(rect.height),
            },
            hidden: isHidden(el, rect),
        });
    });
    return out;
}`

// enumerateExpression invokes enumerateFunc, for drivers that evaluate expressions.
const enumerateExpression = "(" + enumerateFunc + ")()"

// decodeElements converts the JSON produced by enumerateFunc.
func decodeElements(data []byte) ([]schemas.RawElement, error) {
	var raws []schemas.RawElement
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: could not decode element list: %v", schemas.ErrElementQuery, err)
	}
	return raws, nil
}

// decodeValue converts an already decoded evaluation result, such as the
// generic value returned by playwright.
func decodeValue(v interface{}) ([]schemas.RawElement, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: could not encode evaluation result: %v", schemas.ErrElementQuery, err)
	}
	return decodeElements(data)
}
