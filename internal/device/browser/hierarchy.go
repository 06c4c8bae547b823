package browser

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/feedpilot/feedpilot/internal/perception/uixml"
)

// BuildHierarchy renders DOM elements as a uiautomator-style dump so the
// same parser serves both targets.
func BuildHierarchy(elements []DOMElement) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("hierarchy")
	root.CreateAttr("rotation", "0")
	for i, element := range elements {
		node := root.CreateElement("node")
		node.CreateAttr("index", strconv.Itoa(i))
		node.CreateAttr("text", element.Text)
		node.CreateAttr("resource-id", element.ID)
		node.CreateAttr("class", element.Tag)
		node.CreateAttr("content-desc", element.Label)
		node.CreateAttr("clickable", strconv.FormatBool(element.Clickable))
		node.CreateAttr("bounds", uixml.FormatBounds(element.Bounds()))
	}
	return doc.WriteToBytes()
}
